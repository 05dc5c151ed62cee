// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/utils"
)

// TokenRevoker remembers revoked token ids until the token would have expired anyway.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Identity is the resolved caller of a request.
type Identity struct {
	AccountID uuid.UUID          `json:"account_id"`
	Role      models.AccountRole `json:"role"`
	TokenID   string             `json:"-"`
	ExpiresIn time.Duration      `json:"-"`
}

type AuthService struct {
	store       repository.Store
	revoker     TokenRevoker
	notifier    Notifier
	cfg         config.JWTConfig
	accounts    config.AccountConfig
	frontendURL string
	now         func() time.Time
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,strong_password"`
	DisplayName    string `json:"display_name" validate:"required,max=150"`
	Phone          string `json:"phone,omitempty" validate:"omitempty,max=30"`
	CompanyName    string `json:"company_name" validate:"required,max=255"`
	TaxID          string `json:"tax_id" validate:"required,max=50"`
	TradeRegister  string `json:"trade_register,omitempty" validate:"omitempty,max=50"`
	Address        string `json:"address,omitempty"`
	ActivitySector string `json:"activity_sector,omitempty" validate:"omitempty,max=100"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,strong_password"`
}

// EmailRequest carries the address for the forgot-password and resend flows.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,strong_password"`
}

type AuthResponse struct {
	Account      *models.Account `json:"account"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"` // in seconds
}

// NewAuthService wires token issuance and the emailed account flows. A nil
// notifier disables the emails; the tokens are still issued.
func NewAuthService(store repository.Store, revoker TokenRevoker, notifier Notifier, cfg *config.Config) *AuthService {
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	if cfg.JWT.Issuer != "" {
		utils.SetJWTIssuer(cfg.JWT.Issuer)
	}

	accounts := cfg.Account
	if accounts.VerificationTTL <= 0 {
		accounts.VerificationTTL = 24 * time.Hour
	}
	if accounts.PasswordResetTTL <= 0 {
		accounts.PasswordResetTTL = time.Hour
	}

	return &AuthService{
		store:       store,
		revoker:     revoker,
		notifier:    notifier,
		cfg:         cfg.JWT,
		accounts:    accounts,
		frontendURL: strings.TrimRight(cfg.Frontend.BaseURL, "/"),
		now:         time.Now,
	}
}

// Register creates an exporter account together with its profile.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperror.ValidationFailed("invalid registration request").With("fields", utils.GetValidationErrors(err))
	}

	account := &models.Account{
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Role:        models.RoleExporter,
		Status:      models.AccountStatusActive,
	}
	if err := account.SetPassword(req.Password); err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	verification, err := s.newAccountToken(account, models.TokenEmailVerification)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.FindAccountByEmail(ctx, account.Email); err == nil {
			return apperror.Conflict("an account with this email already exists")
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		return tx.CreateProfile(ctx, &models.ExporterProfile{
			AccountID:      account.ID,
			CompanyName:    req.CompanyName,
			TaxID:          req.TaxID,
			TradeRegister:  req.TradeRegister,
			Address:        req.Address,
			ActivitySector: req.ActivitySector,
			ApprovalStatus: models.ApprovalStatusNone,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"account_id": account.ID}).Info("Exporter registered")
	s.sendAccountNotice(ctx, account, models.NoticeEmailVerification, "verify-email", verification)
	return s.issueTokens(account)
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperror.ValidationFailed("invalid login request").With("fields", utils.GetValidationErrors(err))
	}

	account, err := s.store.FindAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("invalid email or password")
		}
		return nil, err
	}

	if err := account.CheckPassword(req.Password); err != nil {
		return nil, apperror.Unauthenticated("invalid email or password")
	}
	if account.Status == models.AccountStatusSuspended {
		return nil, apperror.Unauthorized("account is suspended")
	}

	// Update last login time
	now := s.now()
	account.LastLoginAt = &now
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		logrus.WithError(err).WithField("account_id", account.ID).Warn("Failed to record last login")
	}

	return s.issueTokens(account)
}

// Refresh rotates the token pair: the presented refresh token is revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := utils.ValidateToken(refreshToken, utils.RefreshToken)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid refresh token")
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid refresh token")
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("account no longer exists")
		}
		return nil, err
	}
	if account.Status == models.AccountStatusSuspended {
		return nil, apperror.Unauthorized("account is suspended")
	}

	if err := s.revoker.Revoke(ctx, claims.ID, claims.RemainingTTL()); err != nil {
		return nil, apperror.Internal(fmt.Errorf("revoke refresh token: %w", err))
	}
	return s.issueTokens(account)
}

// Logout revokes the access token and, when given, the refresh token.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	identity, err := s.Resolve(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := s.revoker.Revoke(ctx, identity.TokenID, identity.ExpiresIn); err != nil {
		return apperror.Internal(fmt.Errorf("revoke access token: %w", err))
	}

	if refreshToken != "" {
		claims, err := utils.ValidateToken(refreshToken, utils.RefreshToken)
		if err == nil && claims.AccountID == identity.AccountID.String() {
			if err := s.revoker.Revoke(ctx, claims.ID, claims.RemainingTTL()); err != nil {
				return apperror.Internal(fmt.Errorf("revoke refresh token: %w", err))
			}
		}
	}

	logrus.WithField("account_id", identity.AccountID).Info("Account logged out")
	return nil
}

// Resolve turns a bearer access token into the caller identity.
func (s *AuthService) Resolve(ctx context.Context, token string) (*Identity, error) {
	claims, err := utils.ValidateToken(token, utils.AccessToken)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid or expired token")
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid token subject")
	}
	role := models.AccountRole(claims.Role)
	if !role.IsValid() {
		return nil, apperror.Unauthenticated("invalid token role")
	}

	return &Identity{
		AccountID: accountID,
		Role:      role,
		TokenID:   claims.ID,
		ExpiresIn: claims.RemainingTTL(),
	}, nil
}

// ChangePassword replaces the password of a signed-in account after checking
// the current one. Any pending reset link dies with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, accountID uuid.UUID, req *ChangePasswordRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperror.ValidationFailed("invalid password change request").With("fields", utils.GetValidationErrors(err))
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := account.CheckPassword(req.CurrentPassword); err != nil {
		return apperror.ValidationFailed("current password is incorrect").With("fields", []utils.ValidationError{{Field: "current_password", Tag: "mismatch", Message: "current password is incorrect"}})
	}
	if req.NewPassword == req.CurrentPassword {
		return apperror.ValidationFailed("new password must differ from the current one").With("fields", []utils.ValidationError{{Field: "new_password", Tag: "unchanged", Message: "new password must differ from the current one"}})
	}

	if err := s.setPassword(ctx, account, req.NewPassword); err != nil {
		return err
	}
	logrus.WithField("account_id", account.ID).Info("Password changed")
	return nil
}

// ForgotPassword emails a reset link. Unknown addresses succeed silently so
// the endpoint cannot be used to enumerate accounts.
func (s *AuthService) ForgotPassword(ctx context.Context, req *EmailRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperror.ValidationFailed("invalid password reset request").With("fields", utils.GetValidationErrors(err))
	}

	account, err := s.store.FindAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}
	if account.Status == models.AccountStatusSuspended {
		logrus.WithField("account_id", account.ID).Info("Password reset refused for suspended account")
		return nil
	}

	token, err := s.newAccountToken(account, models.TokenPasswordReset)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return err
	}

	s.sendAccountNotice(ctx, account, models.NoticePasswordReset, "reset-password", token)
	return nil
}

// ValidateResetToken lets the frontend check a reset link before asking for
// the new password.
func (s *AuthService) ValidateResetToken(ctx context.Context, token string) error {
	_, err := s.accountByToken(ctx, models.TokenPasswordReset, token)
	return err
}

// ResetPassword consumes a reset token and sets the new password.
func (s *AuthService) ResetPassword(ctx context.Context, req *ResetPasswordRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperror.ValidationFailed("invalid password reset").With("fields", utils.GetValidationErrors(err))
	}

	account, err := s.accountByToken(ctx, models.TokenPasswordReset, req.Token)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, account, req.NewPassword); err != nil {
		return err
	}
	logrus.WithField("account_id", account.ID).Info("Password reset")
	return nil
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	account, err := s.accountByToken(ctx, models.TokenEmailVerification, token)
	if err != nil {
		return err
	}

	now := s.now()
	account.EmailVerifiedAt = &now
	account.ClearToken(models.TokenEmailVerification)
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return err
	}
	logrus.WithField("account_id", account.ID).Info("Email verified")
	return nil
}

// ResendVerification issues a fresh verification link, replacing the previous
// one. Unknown or already verified addresses succeed silently.
func (s *AuthService) ResendVerification(ctx context.Context, req *EmailRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperror.ValidationFailed("invalid verification request").With("fields", utils.GetValidationErrors(err))
	}

	account, err := s.store.FindAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}
	if account.EmailVerifiedAt != nil {
		return nil
	}

	token, err := s.newAccountToken(account, models.TokenEmailVerification)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return err
	}

	s.sendAccountNotice(ctx, account, models.NoticeEmailVerification, "verify-email", token)
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, account *models.Account, password string) error {
	if err := account.SetPassword(password); err != nil {
		return apperror.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	now := s.now()
	account.PasswordChangedAt = &now
	account.ClearToken(models.TokenPasswordReset)
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return err
	}

	s.sendAccountNotice(ctx, account, models.NoticePasswordChanged, "", "")
	return nil
}

// newAccountToken stores the hash of a new random token on account and
// returns the clear value, which only ever travels by email.
func (s *AuthService) newAccountToken(account *models.Account, purpose models.AccountTokenPurpose) (string, error) {
	token, err := utils.GenerateRandomString(48, utils.Alphanumeric)
	if err != nil {
		return "", apperror.Internal(fmt.Errorf("failed to generate %s token: %w", purpose, err))
	}

	ttl := s.accounts.VerificationTTL
	if purpose == models.TokenPasswordReset {
		ttl = s.accounts.PasswordResetTTL
	}
	account.SetToken(purpose, utils.HashBytes([]byte(token)), s.now().Add(ttl))
	return token, nil
}

func (s *AuthService) accountByToken(ctx context.Context, purpose models.AccountTokenPurpose, token string) (*models.Account, error) {
	invalid := apperror.ValidationFailed("invalid or expired token").With("fields", []utils.ValidationError{{Field: "token", Tag: "invalid", Message: "invalid or expired token"}})
	if token == "" {
		return nil, invalid
	}

	hash := utils.HashBytes([]byte(token))
	account, err := s.store.FindAccountByToken(ctx, purpose, hash)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if !account.TokenValid(purpose, hash, s.now()) {
		return nil, invalid
	}
	return account, nil
}

// sendAccountNotice emails an account message. A non-empty token is appended
// to the frontend path as the link; the email is then the only copy.
func (s *AuthService) sendAccountNotice(ctx context.Context, account *models.Account, kind models.NotificationKind, path, token string) {
	if s.notifier == nil {
		return
	}

	notice := Notice{
		RecipientID: account.ID,
		Kind:        kind,
		Reference:   account.Email,
	}
	if token != "" {
		notice.Link = fmt.Sprintf("%s/%s?token=%s", s.frontendURL, path, url.QueryEscape(token))
		notice.Params = map[string]string{"token": token}
		notice.EmailOnly = true
	}

	if err := s.notifier.Notify(ctx, notice); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"account_id": account.ID,
			"kind":       kind,
		}).Warn("Account notice delivery failed")
	}
}

func (s *AuthService) checkRevoked(ctx context.Context, jti string) error {
	revoked, err := s.revoker.IsRevoked(ctx, jti)
	if err != nil {
		return apperror.Internal(fmt.Errorf("check token revocation: %w", err))
	}
	if revoked {
		return apperror.Unauthenticated("token has been revoked")
	}
	return nil
}

func (s *AuthService) issueTokens(account *models.Account) (*AuthResponse, error) {
	accessTTL := time.Duration(s.cfg.AccessTokenTTL) * time.Hour
	refreshTTL := time.Duration(s.cfg.RefreshTokenTTL) * time.Hour

	accessToken, _, err := utils.GenerateToken(account.ID, string(account.Role), utils.AccessToken, accessTTL)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to generate access token: %w", err))
	}
	refreshToken, _, err := utils.GenerateToken(account.ID, string(account.Role), utils.RefreshToken, refreshTTL)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to generate refresh token: %w", err))
	}

	return &AuthResponse{
		Account:      account,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTTL.Seconds()),
	}, nil
}
