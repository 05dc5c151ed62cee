// internal/services/account_service.go
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/utils"
)

type AccountService struct {
	store repository.Store
}

type UpdateProfileRequest struct {
	DisplayName    string `json:"display_name,omitempty" validate:"omitempty,max=150"`
	Phone          string `json:"phone,omitempty" validate:"omitempty,max=30"`
	CompanyName    string `json:"company_name,omitempty" validate:"omitempty,max=255"`
	TradeRegister  string `json:"trade_register,omitempty" validate:"omitempty,max=50"`
	Address        string `json:"address,omitempty"`
	ActivitySector string `json:"activity_sector,omitempty" validate:"omitempty,max=100"`
}

func NewAccountService(store repository.Store) *AccountService {
	return &AccountService{store: store}
}

// GetProfile joins the account with its exporter profile. Staff accounts have none.
func (s *AccountService) GetProfile(ctx context.Context, accountID uuid.UUID) (*models.AccountWithProfile, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	out := &models.AccountWithProfile{Account: *account}
	if account.Role != models.RoleExporter {
		return out, nil
	}

	profile, err := s.store.GetProfile(ctx, accountID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}
	out.Profile = profile
	return out, nil
}

// UpdateProfile changes contact and company fields. The tax id and the
// approval fields are not editable here.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID uuid.UUID, req *UpdateProfileRequest) (*models.AccountWithProfile, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperror.ValidationFailed("invalid profile").With("fields", utils.GetValidationErrors(err))
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if req.DisplayName != "" {
			account.DisplayName = req.DisplayName
		}
		if req.Phone != "" {
			account.Phone = req.Phone
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		if account.Role != models.RoleExporter {
			return nil
		}
		profile, err := tx.GetProfile(ctx, accountID)
		if err != nil {
			return err
		}
		if req.CompanyName != "" {
			profile.CompanyName = req.CompanyName
		}
		if req.TradeRegister != "" {
			profile.TradeRegister = req.TradeRegister
		}
		if req.Address != "" {
			profile.Address = req.Address
		}
		if req.ActivitySector != "" {
			profile.ActivitySector = req.ActivitySector
		}
		return tx.UpdateProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, accountID)
}

// ListAgents returns the active agents a case can be assigned to.
func (s *AccountService) ListAgents(ctx context.Context) ([]models.Account, error) {
	agents, err := s.store.ListAccountsByRole(ctx, models.RoleAgent)
	if err != nil {
		return nil, err
	}
	active := agents[:0]
	for _, a := range agents {
		if a.Status == models.AccountStatusActive {
			active = append(active, a)
		}
	}
	return active, nil
}
