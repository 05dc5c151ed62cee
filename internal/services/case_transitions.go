// internal/services/case_transitions.go
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/events"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
)

// committed is a status change that made it into the database. Its side
// effects run only after the transaction that produced it returned.
type committed struct {
	caseID    uuid.UUID
	reference string
	from      models.CaseStatus
	to        models.CaseStatus
	action    models.HistoryAction
	actorID   uuid.UUID
	at        time.Time
}

// transition moves c to `to` with a version compare-and-swap and appends the
// matching history entry through the same transaction. A from == to move is
// allowed for actions that only touch case fields (assignment, payment retry).
func (s *CaseService) transition(ctx context.Context, tx repository.Store, c *models.RegistrationCase, to models.CaseStatus, action models.HistoryAction, actorID uuid.UUID, comment string) (*committed, error) {
	from := c.Status
	if from != to && !from.CanTransitionTo(to) {
		return nil, apperror.InvalidState("case", c.ID, string(from))
	}

	expected := c.Version
	c.Status = to
	if err := tx.UpdateCase(ctx, c, expected); err != nil {
		c.Status = from
		return nil, err
	}

	entry, err := s.history.Record(ctx, tx, c.ID, from, to, action, comment, actorID)
	if err != nil {
		return nil, err
	}

	return &committed{
		caseID:    c.ID,
		reference: c.Reference,
		from:      from,
		to:        to,
		action:    action,
		actorID:   actorID,
		at:        entry.CreatedAt,
	}, nil
}

// pendingEvent is a lifecycle event waiting for the publisher.
type pendingEvent struct {
	ctx    context.Context
	event  events.CaseEvent
	logger *logrus.Entry
}

// eventQueue hands events to a single drainer so that they reach the
// publisher in the order their commits were reported.
type eventQueue struct {
	mu       sync.Mutex
	pending  []pendingEvent
	draining bool
}

func (s *CaseService) enqueueEvent(ev pendingEvent) {
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()

	s.queue.pending = append(s.queue.pending, ev)
	if s.queue.draining {
		return
	}
	s.queue.draining = true
	s.wg.Add(1)
	go s.drainEvents()
}

func (s *CaseService) drainEvents() {
	defer s.wg.Done()

	for {
		s.queue.mu.Lock()
		if len(s.queue.pending) == 0 {
			s.queue.draining = false
			s.queue.mu.Unlock()
			return
		}
		ev := s.queue.pending[0]
		s.queue.pending = s.queue.pending[1:]
		s.queue.mu.Unlock()

		bg, cancel := context.WithTimeout(ev.ctx, s.policy.NotifyTimeout)
		if err := s.publisher.PublishCaseEvent(bg, ev.event); err != nil {
			s.metrics.NotificationFailed("event")
			ev.logger.WithError(err).Warn("Failed to publish case event")
		}
		cancel()
	}
}

// afterCommit records metrics synchronously, queues the lifecycle event and
// sends the notices in the background. Their failures are logged and
// counted, never returned. change is nil for notices without a status change.
func (s *CaseService) afterCommit(ctx context.Context, change *committed, notices ...Notice) {
	logger := logrus.NewEntry(logrus.StandardLogger())
	if change != nil {
		if change.from != "" && change.from != change.to {
			s.metrics.Transition(string(change.from), string(change.to))
		}
		logger = logger.WithFields(logrus.Fields{
			"case_id": change.caseID,
			"action":  change.action,
			"from":    change.from,
			"to":      change.to,
			"actor":   change.actorID,
		})
		logger.Info("Case transition committed")

		s.enqueueEvent(pendingEvent{
			ctx:    context.WithoutCancel(ctx),
			logger: logger,
			event: events.CaseEvent{
				EventID:    uuid.NewString(),
				CaseID:     change.caseID.String(),
				Reference:  change.reference,
				Action:     string(change.action),
				FromStatus: string(change.from),
				ToStatus:   string(change.to),
				ActorID:    change.actorID.String(),
				OccurredAt: change.at,
			},
		})
	}

	if len(notices) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.NotifyTimeout)
		defer cancel()

		for _, notice := range notices {
			if notice.RecipientID == uuid.Nil {
				continue
			}
			if err := s.notifier.Notify(bg, notice); err != nil {
				s.metrics.NotificationFailed("notify")
				logger.WithError(err).WithField("recipient", notice.RecipientID).Warn("Notification failed")
			}
		}
	}()
}

// withinTxRetryingCollision runs fn in a transaction and runs it once more
// when the commit lost a race on a unique reference or approval number. The
// retry draws a fresh candidate.
func (s *CaseService) withinTxRetryingCollision(ctx context.Context, operation string, fn func(tx repository.Store) error) error {
	err := s.store.WithinTx(ctx, fn)
	if err == nil || !errors.Is(err, apperror.ErrConflict) || !apperror.IsRetryable(err) {
		return err
	}

	logrus.WithField("operation", operation).WithError(err).Warn("Reference collision at commit, retrying")
	return s.store.WithinTx(ctx, fn)
}

// observe counts a refused operation by its error code.
func (s *CaseService) observe(operation string, err *error) {
	if *err == nil {
		return
	}
	s.metrics.Rejected(operation, apperror.CodeOf(*err))
	logrus.WithFields(logrus.Fields{
		"operation": operation,
		"code":      apperror.CodeOf(*err),
	}).WithError(*err).Debug("Case operation refused")
}

func (s *CaseService) notice(c *models.RegistrationCase, recipient uuid.UUID, kind models.NotificationKind, params map[string]string) Notice {
	return Notice{
		RecipientID: recipient,
		Kind:        kind,
		CaseID:      c.ID,
		Reference:   c.Reference,
		Params:      params,
	}
}

func statusNames(statuses ...models.CaseStatus) []string {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return names
}
