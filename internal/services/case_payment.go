// internal/services/case_payment.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
)

type PaymentRequestResult struct {
	Case         *models.RegistrationCase `json:"case"`
	PaymentID    string                   `json:"payment_id"`
	ClientSecret string                   `json:"client_secret"`
	Amount       int64                    `json:"amount"`
	Currency     string                   `json:"currency"`
}

// RequestPayment opens a fee intent for a submitted case. A case whose
// previous payment failed may request a fresh intent without changing state.
func (s *CaseService) RequestPayment(ctx context.Context, caseID, callerID uuid.UUID) (result *PaymentRequestResult, err error) {
	defer s.observe("request_payment", &err)

	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.ApplicantID != callerID {
		return nil, apperror.Unauthorized("only the case owner can pay the registration fee")
	}
	if !payable(c) {
		return nil, apperror.InvalidState("case", c.ID, string(c.Status), string(models.CaseStatusSubmitted))
	}

	intent, err := s.payments.CreateFeeIntent(ctx, c.ID, c.Reference, s.policy.FeeAmount)
	if err != nil {
		return nil, err
	}

	var change *committed
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		current, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if current.Version != c.Version {
			return apperror.Conflict("the case changed while the payment was being created")
		}

		current.PaymentReference = intent.ID
		current.PaymentAmount = intent.Amount
		current.PaymentStatus = models.PaymentStatusPending
		change, err = s.transition(ctx, tx, current, models.CaseStatusPendingPayment, models.ActionPaymentRequest, callerID, "payment "+intent.ID)
		c = current
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"case_id":    caseID,
			"payment_id": intent.ID,
		}).WithError(err).Warn("Fee intent created but not recorded on the case")
		return nil, err
	}

	s.afterCommit(ctx, change, s.notice(c, c.ApplicantID, models.NoticePaymentRequested, map[string]string{
		"amount":   fmt.Sprintf("%d", intent.Amount),
		"currency": intent.Currency,
	}))
	return &PaymentRequestResult{
		Case:         c,
		PaymentID:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	}, nil
}

func payable(c *models.RegistrationCase) bool {
	return c.Status == models.CaseStatusSubmitted ||
		(c.Status == models.CaseStatusPendingPayment && c.PaymentStatus == models.PaymentStatusFailed)
}

// ConfirmPayment reconciles the case with the provider's view of its fee intent.
func (s *CaseService) ConfirmPayment(ctx context.Context, caseID, callerID uuid.UUID) (c *models.RegistrationCase, err error) {
	defer s.observe("confirm_payment", &err)

	c, err = s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.ApplicantID != callerID {
		return nil, apperror.Unauthorized("only the case owner can confirm the payment")
	}
	if c.Status != models.CaseStatusPendingPayment || c.PaymentReference == "" {
		return nil, apperror.InvalidState("case", c.ID, string(c.Status), string(models.CaseStatusPendingPayment))
	}

	intent, err := s.payments.GetFeeIntent(ctx, c.PaymentReference)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case FeeSucceeded:
		var change *committed
		err = s.store.WithinTx(ctx, func(tx repository.Store) error {
			current, err := tx.GetCase(ctx, caseID)
			if err != nil {
				return err
			}
			if current.Status != models.CaseStatusPendingPayment {
				return apperror.InvalidState("case", current.ID, string(current.Status), string(models.CaseStatusPendingPayment))
			}
			current.PaymentStatus = models.PaymentStatusPaid
			change, err = s.transition(ctx, tx, current, models.CaseStatusPaid, models.ActionPayment, callerID, "payment "+intent.ID)
			c = current
			return err
		})
		if err != nil {
			return nil, err
		}
		s.afterCommit(ctx, change, s.notice(c, c.ApplicantID, models.NoticePaymentReceived, nil))
		return c, nil

	case FeeFailed:
		err = s.store.WithinTx(ctx, func(tx repository.Store) error {
			current, err := tx.GetCase(ctx, caseID)
			if err != nil {
				return err
			}
			expected := current.Version
			current.PaymentStatus = models.PaymentStatusFailed
			c = current
			return tx.UpdateCase(ctx, current, expected)
		})
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"case_id":    c.ID,
			"payment_id": intent.ID,
		}).Info("Registration fee payment failed")
		return c, nil

	default:
		return nil, apperror.InvalidState("payment", intent.ID, intent.ProviderStatus, string(FeeSucceeded)).
			With("payment_status", string(intent.Status))
	}
}
