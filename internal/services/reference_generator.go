// internal/services/reference_generator.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/utils"
)

const (
	referenceSuffixLength = 8
	approvalDigits        = 6
	defaultRefAttempts    = 5
)

// ReferenceGenerator allocates case references and approval numbers. Both
// carry a crypto/rand component; a collision with an existing row is retried.
type ReferenceGenerator struct {
	attempts int
	random   func(length int, charset string) (string, error)
}

func NewReferenceGenerator(attempts int) *ReferenceGenerator {
	if attempts < 1 {
		attempts = defaultRefAttempts
	}
	return &ReferenceGenerator{
		attempts: attempts,
		random:   utils.GenerateRandomString,
	}
}

// CaseReference returns <PREFIX>-<YYYYMMDD>-<8 uppercase alphanumerics>.
func (g *ReferenceGenerator) CaseReference(ctx context.Context, cases repository.CaseRepository, track models.CaseTrack, at time.Time) (string, error) {
	return g.allocate(ctx, cases.ExistsByReference, func() (string, error) {
		suffix, err := g.random(referenceSuffixLength, utils.UpperAlphanumeric)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s-%s-%s", track.ReferencePrefix(), at.Format("20060102"), suffix), nil
	})
}

// ApprovalNumber returns AGR-<YYYY>-<6 digits>.
func (g *ReferenceGenerator) ApprovalNumber(ctx context.Context, cases repository.CaseRepository, at time.Time) (string, error) {
	return g.allocate(ctx, cases.ExistsByApprovalNumber, func() (string, error) {
		digits, err := g.random(approvalDigits, utils.Digits)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("AGR-%04d-%s", at.Year(), digits), nil
	})
}

func (g *ReferenceGenerator) allocate(ctx context.Context, exists func(context.Context, string) (bool, error), next func() (string, error)) (string, error) {
	for attempt := 0; attempt < g.attempts; attempt++ {
		candidate, err := next()
		if err != nil {
			return "", apperror.Internal(fmt.Errorf("generate reference: %w", err))
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperror.Conflict(fmt.Sprintf("could not allocate a unique reference after %d attempts", g.attempts))
}
