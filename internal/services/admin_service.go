// internal/services/admin_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/utils"
)

type AdminService struct {
	store repository.Store
}

type AdminDashboardStats struct {
	Exporters       int                         `json:"exporters"`
	Agents          int                         `json:"agents"`
	Admins          int                         `json:"admins"`
	SuspendedUsers  int                         `json:"suspended_users"`
	CasesByStatus   map[models.CaseStatus]int64 `json:"cases_by_status"`
	TotalCases      int64                       `json:"total_cases"`
	ActiveCases     int64                       `json:"active_cases"`
	UnassignedCases int64                       `json:"unassigned_cases"`
}

type CreateAgentRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,strong_password"`
	DisplayName string `json:"display_name" validate:"required,max=150"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=30"`
}

func NewAdminService(store repository.Store) *AdminService {
	return &AdminService{store: store}
}

func (s *AdminService) GetDashboardStats(ctx context.Context) (*AdminDashboardStats, error) {
	stats := &AdminDashboardStats{}

	for _, role := range []models.AccountRole{models.RoleExporter, models.RoleAgent, models.RoleAdmin} {
		accounts, err := s.store.ListAccountsByRole(ctx, role)
		if err != nil {
			return nil, err
		}
		switch role {
		case models.RoleExporter:
			stats.Exporters = len(accounts)
		case models.RoleAgent:
			stats.Agents = len(accounts)
		case models.RoleAdmin:
			stats.Admins = len(accounts)
		}
		for _, a := range accounts {
			if a.Status == models.AccountStatusSuspended {
				stats.SuspendedUsers++
			}
		}
	}

	counts, err := s.store.CountCasesByStatus(ctx, repository.CaseFilter{})
	if err != nil {
		return nil, err
	}
	stats.CasesByStatus = counts
	for status, n := range counts {
		stats.TotalCases += n
		if !status.IsTerminal() && status != models.CaseStatusDraft {
			stats.ActiveCases += n
		}
	}

	_, unassigned, err := s.store.ListCases(ctx, repository.CaseFilter{
		Statuses:   []models.CaseStatus{models.CaseStatusSubmitted, models.CaseStatusPaid},
		Unassigned: true,
	}, repository.Page{Page: 1, Limit: 1})
	if err != nil {
		return nil, err
	}
	stats.UnassignedCases = unassigned

	return stats, nil
}

func (s *AdminService) ListAccounts(ctx context.Context, role models.AccountRole) ([]models.Account, error) {
	if !role.IsValid() {
		return nil, apperror.ValidationFailed(fmt.Sprintf("unknown role %q", role))
	}
	return s.store.ListAccountsByRole(ctx, role)
}

// UpdateAccountStatus suspends or reactivates an account. Admin accounts
// cannot be changed through this path.
func (s *AdminService) UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status models.AccountStatus, adminID uuid.UUID, reason string) (*models.Account, error) {
	if status != models.AccountStatusActive && status != models.AccountStatusSuspended {
		return nil, apperror.ValidationFailed(fmt.Sprintf("unknown account status %q", status))
	}

	var account *models.Account
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		account, err = tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Role == models.RoleAdmin {
			return apperror.Unauthorized("cannot modify admin account status")
		}

		oldStatus := account.Status
		account.Status = status
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"account_id": accountID,
			"admin_id":   adminID,
			"old_status": oldStatus,
			"new_status": status,
			"reason":     reason,
		}).Info("Account status updated")
		return tx.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:      &adminID,
			Action:       "UPDATE_ACCOUNT_STATUS:" + string(status),
			ResourceType: "account",
			ResourceID:   &accountID,
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// CreateAgent registers a reviewing agent. Only admins reach this path.
func (s *AdminService) CreateAgent(ctx context.Context, adminID uuid.UUID, req *CreateAgentRequest) (*models.Account, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperror.ValidationFailed("invalid agent account").With("fields", utils.GetValidationErrors(err))
	}

	agent := &models.Account{
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Role:        models.RoleAgent,
		Status:      models.AccountStatusActive,
	}
	if err := agent.SetPassword(req.Password); err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.FindAccountByEmail(ctx, agent.Email); err == nil {
			return apperror.Conflict("an account with this email already exists")
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		if err := tx.CreateAccount(ctx, agent); err != nil {
			return err
		}
		return tx.CreateAuditLog(ctx, &models.AuditLog{
			ActorID:      &adminID,
			Action:       "CREATE_AGENT",
			ResourceType: "account",
			ResourceID:   &agent.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"agent_id": agent.ID,
		"admin_id": adminID,
	}).Info("Agent account created")
	return agent, nil
}

func (s *AdminService) ListAuditLogs(ctx context.Context, params utils.PaginationParams) ([]models.AuditLog, int64, error) {
	return s.store.ListAuditLogs(ctx, params.Repository())
}
