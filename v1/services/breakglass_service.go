package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/admitpath/portal-backend/idp"
	"github.com/admitpath/portal-backend/monitoring"
	"github.com/admitpath/portal-backend/v1/models"
)

// breakGlassTokenTTL is how long an emergency token stays usable.
const breakGlassTokenTTL = 15 * time.Minute

// BreakGlassService handles emergency admin operations. A shared secret is
// exchanged for a short-lived single-use token, and every use is written to
// an append-only audit log.
type BreakGlassService struct {
	db  *gorm.DB
	idp idp.IdentityProvider
}

// NewBreakGlassService creates a new break-glass service
func NewBreakGlassService(db *gorm.DB, provider idp.IdentityProvider) *BreakGlassService {
	return &BreakGlassService{db: db, idp: provider}
}

// IssueToken exchanges the break-glass code for a one-time token. The code
// comparison is constant time.
func (s *BreakGlassService) IssueToken(ctx context.Context, req *models.BreakGlassRequest) (*models.BreakGlassTokenResponse, error) {
	configured := os.Getenv("BREAK_GLASS_CODE")
	if configured == "" {
		slog.Error("Break-glass requested but BREAK_GLASS_CODE is not configured")
		return nil, fmt.Errorf("%w: break-glass is not enabled", models.ErrForbidden)
	}

	if subtle.ConstantTimeCompare([]byte(req.Code), []byte(configured)) != 1 {
		slog.Warn("Break-glass code mismatch", "for", req.For)
		return nil, fmt.Errorf("%w: invalid break-glass code", models.ErrForbidden)
	}

	if req.For == "" {
		return nil, fmt.Errorf("%w: requester identity is required", models.ErrValidation)
	}

	token := models.BreakGlassToken{
		ID:        uuid.New().String(),
		IssuedTo:  req.For,
		ExpiresAt: time.Now().Add(breakGlassTokenTTL),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return nil, fmt.Errorf("failed to issue break-glass token: %w", err)
	}

	s.writeAudit(ctx, token.ID, "issue", req.For, req.RequestIP)
	monitoring.RecordBreakGlassUse(ctx, "issue")
	slog.Warn("Issued break-glass token",
		"issued_to", req.For, "request_ip", req.RequestIP, "expires_at", token.ExpiresAt)

	return &models.BreakGlassTokenResponse{
		Token:     token.ID,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// ForceRoleSwitch sets a user's active role without a membership check,
// consuming a break-glass token.
func (s *BreakGlassService) ForceRoleSwitch(ctx context.Context, req *models.ForceRoleSwitchRequest) error {
	if !req.Role.IsValid() {
		return fmt.Errorf("%w: invalid role %q", models.ErrValidation, req.Role)
	}

	tokenID, err := s.consumeToken(ctx, req.Token)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", req.UserID).
		Update("current_role", req.Role)
	if result.Error != nil {
		return fmt.Errorf("failed to force role switch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, req.UserID)
	}

	s.writeAudit(ctx, tokenID, "force_role_switch", req.UserID, string(req.Role))
	monitoring.RecordBreakGlassUse(ctx, "force_role_switch")
	slog.Warn("Forced role switch via break-glass", "user_id", req.UserID, "role", req.Role)
	return nil
}

// ResetPassword resets a user's password in the identity provider, consuming
// a break-glass token.
func (s *BreakGlassService) ResetPassword(ctx context.Context, req *models.ResetPasswordRequest) error {
	if req.Email == "" || req.NewPassword == "" {
		return fmt.Errorf("%w: email and new password are required", models.ErrValidation)
	}

	tokenID, err := s.consumeToken(ctx, req.Token)
	if err != nil {
		return err
	}

	if err := s.idp.ResetPassword(ctx, req.Email, req.NewPassword); err != nil {
		s.writeAudit(ctx, tokenID, "reset_password_failed", req.Email, err.Error())
		return fmt.Errorf("failed to reset password: %w", err)
	}

	s.writeAudit(ctx, tokenID, "reset_password", req.Email, "")
	monitoring.RecordBreakGlassUse(ctx, "reset_password")
	slog.Warn("Reset password via break-glass", "email", req.Email)
	return nil
}

// consumeToken marks a break-glass token used exactly once. Expired, unknown
// and already-used tokens are all rejected.
func (s *BreakGlassService) consumeToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: break-glass token is required", models.ErrValidation)
	}

	var record models.BreakGlassToken
	if err := s.db.WithContext(ctx).First(&record, "id = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: invalid break-glass token", models.ErrForbidden)
		}
		return "", fmt.Errorf("failed to load break-glass token: %w", err)
	}

	if time.Now().After(record.ExpiresAt) {
		return "", fmt.Errorf("%w: break-glass token has expired", models.ErrForbidden)
	}

	result := s.db.WithContext(ctx).
		Model(&models.BreakGlassToken{}).
		Where("id = ? AND used = ?", token, false).
		Update("used", true)
	if result.Error != nil {
		return "", fmt.Errorf("failed to consume break-glass token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", fmt.Errorf("%w: break-glass token already used", models.ErrForbidden)
	}

	return record.ID, nil
}

// writeAudit appends an audit row. Audit failures are logged, never fatal,
// so an emergency operation is not rolled back by a logging problem.
func (s *BreakGlassService) writeAudit(ctx context.Context, tokenID, operation, target, detail string) {
	audit := models.BreakGlassAudit{
		ID:         uuid.New().String(),
		TokenID:    tokenID,
		Operation:  operation,
		TargetUser: target,
		Detail:     detail,
	}
	if err := s.db.WithContext(ctx).Create(&audit).Error; err != nil {
		slog.Error("Failed to write break-glass audit record",
			"operation", operation, "target", target, "error", err)
	}
}

// ListAudit returns the break-glass audit trail, newest first.
func (s *BreakGlassService) ListAudit(ctx context.Context) ([]models.BreakGlassAudit, error) {
	var records []models.BreakGlassAudit
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list break-glass audit records: %w", err)
	}
	return records, nil
}
