// internal/services/payment_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/config"
)

type FeeStatus string

const (
	FeeSucceeded  FeeStatus = "succeeded"
	FeeFailed     FeeStatus = "failed"
	FeeProcessing FeeStatus = "processing"
)

// FeeIntent is the provider-side view of one registration fee payment.
type FeeIntent struct {
	ID             string    `json:"payment_id"`
	ClientSecret   string    `json:"client_secret,omitempty"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         FeeStatus `json:"status"`
	ProviderStatus string    `json:"provider_status"`
}

type PaymentGateway interface {
	CreateFeeIntent(ctx context.Context, caseID uuid.UUID, reference string, amount int64) (*FeeIntent, error)
	GetFeeIntent(ctx context.Context, intentID string) (*FeeIntent, error)
}

// PaymentService is the Stripe PaymentIntent gateway.
type PaymentService struct {
	currency string
}

var _ PaymentGateway = (*PaymentService)(nil)

func NewPaymentService(cfg *config.Config) *PaymentService {
	// Initialize Stripe
	stripe.Key = cfg.Payment.StripeSecretKey

	currency := cfg.Payment.Currency
	if currency == "" {
		currency = string(stripe.CurrencyEUR)
	}
	return &PaymentService{currency: currency}
}

func (s *PaymentService) CreateFeeIntent(ctx context.Context, caseID uuid.UUID, reference string, amount int64) (*FeeIntent, error) {
	if amount <= 0 {
		return nil, apperror.ValidationFailed("registration fee must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(s.currency),
		Description: stripe.String("Export registration fee " + reference),
	}
	params.Context = ctx
	params.AddMetadata("case_id", caseID.String())
	params.AddMetadata("reference", reference)
	params.SetIdempotencyKey("fee-" + caseID.String() + "-" + uuid.NewString())

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to create payment intent: %w", err))
	}
	return toFeeIntent(pi), nil
}

func (s *PaymentService) GetFeeIntent(ctx context.Context, intentID string) (*FeeIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode == 404 {
			return nil, apperror.NotFound("payment", intentID)
		}
		return nil, apperror.Internal(fmt.Errorf("failed to get payment intent: %w", err))
	}
	return toFeeIntent(pi), nil
}

func toFeeIntent(pi *stripe.PaymentIntent) *FeeIntent {
	return &FeeIntent{
		ID:             pi.ID,
		ClientSecret:   pi.ClientSecret,
		Amount:         pi.Amount,
		Currency:       string(pi.Currency),
		Status:         feeStatusOf(pi),
		ProviderStatus: string(pi.Status),
	}
}

// feeStatusOf folds the provider lifecycle into the three outcomes the case
// cares about. A declined attempt returns the intent to
// requires_payment_method with the decline recorded in LastPaymentError.
func feeStatusOf(pi *stripe.PaymentIntent) FeeStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return FeeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return FeeFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return FeeFailed
		}
		return FeeProcessing
	default:
		return FeeProcessing
	}
}
