// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"time"

	mail "github.com/go-mail/mail/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/metrics"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
)

// Notice is one fire-and-forget message about a case or, with a nil CaseID,
// about the recipient's account.
type Notice struct {
	RecipientID uuid.UUID
	Kind        models.NotificationKind
	CaseID      uuid.UUID
	Reference   string
	Params      map[string]string
	// Link overrides the case link in the email.
	Link string
	// EmailOnly notices carry secrets and never get an in-app row.
	EmailOnly bool
}

type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// NotificationService writes the in-app row and sends the email copy.
type NotificationService struct {
	store       repository.Store
	mailer      mailSender
	from        string
	fromName    string
	frontendURL string
	lang        string
	metrics     *metrics.Metrics
	now         func() time.Time
}

var _ Notifier = (*NotificationService)(nil)

func NewNotificationService(store repository.Store, cfg *config.Config, m *metrics.Metrics) *NotificationService {
	s := &NotificationService{
		store:       store,
		from:        cfg.Email.FromEmail,
		fromName:    cfg.Email.FromName,
		frontendURL: cfg.Frontend.BaseURL,
		lang:        cfg.I18n.DefaultLocale,
		metrics:     m,
		now:         time.Now,
	}

	if cfg.Email.SMTPHost != "" {
		dialer := mail.NewDialer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUsername, cfg.Email.SMTPPassword)
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
		dialer.TLSConfig = &tls.Config{
			ServerName:         cfg.Email.SMTPHost,
			InsecureSkipVerify: cfg.Email.SkipTLSVerify,
		}
		s.mailer = dialer
	}

	return s
}

// Notify delivers on every channel and reports the joined failures. Callers
// treat the error as informational.
func (s *NotificationService) Notify(ctx context.Context, notice Notice) error {
	recipient, err := s.store.GetAccount(ctx, notice.RecipientID)
	if err != nil {
		s.metrics.NotificationFailed("lookup")
		return fmt.Errorf("notification recipient %s: %w", notice.RecipientID, err)
	}

	title := i18n.T(s.lang, i18n.NoticeTitleKey(string(notice.Kind)), notice.Reference)
	message := i18n.T(s.lang, i18n.NoticeBodyKey(string(notice.Kind)), notice.Reference)

	var errs []error

	if !notice.EmailOnly {
		params := models.JSONB{}
		for k, v := range notice.Params {
			params[k] = v
		}
		row := &models.Notification{
			RecipientID: recipient.ID,
			Kind:        notice.Kind,
			Title:       title,
			Message:     message,
			Params:      params,
		}
		if notice.CaseID != uuid.Nil {
			caseID := notice.CaseID
			row.CaseID = &caseID
		}
		if err := s.store.CreateNotification(ctx, row); err != nil {
			s.metrics.NotificationFailed("in_app")
			errs = append(errs, fmt.Errorf("store notification: %w", err))
		}
	}

	if err := s.sendEmail(recipient, title, message, notice); err != nil {
		s.metrics.NotificationFailed("email")
		errs = append(errs, fmt.Errorf("send email: %w", err))
	}

	return errors.Join(errs...)
}

func (s *NotificationService) ListNotifications(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, recipientID, unreadOnly)
}

func (s *NotificationService) MarkRead(ctx context.Context, notificationID, recipientID uuid.UUID) error {
	return s.store.MarkNotificationRead(ctx, notificationID, recipientID, s.now())
}

func (s *NotificationService) sendEmail(to *models.Account, subject, message string, notice Notice) error {
	if s.mailer == nil {
		// Email not configured, just log
		logrus.WithFields(logrus.Fields{
			"recipient": to.ID,
			"kind":      notice.Kind,
			"case_id":   notice.CaseID,
		}).Debug("Email delivery disabled")
		return nil
	}

	data := noticeEmailData{
		Name:     to.DisplayName,
		Title:    subject,
		Message:  message,
		Comment:  notice.Params["comment"],
		LinkText: notice.Reference,
		LinkURL:  notice.Link,
	}
	switch {
	case notice.Link != "":
		data.LinkText = subject
	case notice.CaseID != uuid.Nil:
		data.LinkURL = fmt.Sprintf("%s/cases/%s", s.frontendURL, notice.CaseID)
	}

	body, err := renderNoticeEmail(data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	m := mail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", to.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	return s.mailer.DialAndSend(m)
}

type noticeEmailData struct {
	Name     string
	Title    string
	Message  string
	Comment  string
	LinkText string
	LinkURL  string
}

var noticeEmailTemplate = template.Must(template.New("notice").Parse(`<!DOCTYPE html>
<html>
<body>
	<h2>{{.Title}}</h2>
	<p>{{if .Name}}{{.Name}},{{end}}</p>
	<p>{{.Message}}</p>
	{{if .Comment}}<blockquote>{{.Comment}}</blockquote>{{end}}
	{{if .LinkURL}}<p><a href="{{.LinkURL}}">{{.LinkText}}</a></p>{{end}}
</body>
</html>`))

func renderNoticeEmail(data noticeEmailData) (string, error) {
	var buf bytes.Buffer
	if err := noticeEmailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
