package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/admitpath/portal-backend/idp"
	"github.com/admitpath/portal-backend/monitoring"
	"github.com/admitpath/portal-backend/v1/models"
)

const (
	resolveMaxAttempts  = 3
	resolveRetryBackoff = 150 * time.Millisecond
	defaultProfileRole  = models.RoleStudent
)

// UserService handles user profiles, role memberships and role switching.
type UserService struct {
	db  *gorm.DB
	idp idp.IdentityProvider
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB, provider idp.IdentityProvider) *UserService {
	return &UserService{db: db, idp: provider}
}

// ResolveCurrentUser loads the application user for a verified token
// identity. A missing profile is provisioned on the spot so accounts created
// directly in the identity provider still work. Transient failures are
// retried a bounded number of times; if the user still cannot be resolved the
// request fails closed with no user.
func (s *UserService) ResolveCurrentUser(ctx context.Context, identity *idp.Identity) (*models.CurrentUser, error) {
	if identity == nil || identity.ID == "" {
		return nil, fmt.Errorf("%w: missing identity", models.ErrValidation)
	}

	var lastErr error
	for attempt := 1; attempt <= resolveMaxAttempts; attempt++ {
		user, err := s.composeCurrentUser(ctx, identity.ID)
		if err == nil {
			return user, nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if provErr := s.provisionUser(ctx, identity); provErr != nil {
				lastErr = provErr
			} else {
				lastErr = err
			}
		} else {
			lastErr = err
		}

		if attempt < resolveMaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(resolveRetryBackoff):
			}
		}
	}

	slog.Error("Failed to resolve current user, failing closed",
		"user_id", identity.ID, "attempts", resolveMaxAttempts, "error", lastErr)
	return nil, fmt.Errorf("failed to resolve user %s: %w", identity.ID, lastErr)
}

// composeCurrentUser loads the profile row plus role memberships and builds
// the composed view. Returns gorm.ErrRecordNotFound when no profile exists.
func (s *UserService) composeCurrentUser(ctx context.Context, userID string) (*models.CurrentUser, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	var roles []models.UserRole
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to load role memberships: %w", err)
	}

	current := &models.CurrentUser{
		ID:          user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		Role:        user.Role,
		CurrentRole: user.CurrentRole,
		Roles:       roles,
	}

	// Organization belongs to the membership the user is acting as, not to
	// any membership they happen to hold.
	for _, r := range roles {
		if r.Role == user.CurrentRole {
			current.Organization = r.Organization
			break
		}
	}

	return current, nil
}

// provisionUser creates the profile row, primary role membership and role
// sub-profile for an identity seen for the first time. Every write is an
// upsert-or-ignore so concurrent first requests converge on one row set.
func (s *UserService) provisionUser(ctx context.Context, identity *idp.Identity) error {
	role := models.NormalizeRole(identity.Metadata.Role)

	user := models.User{
		ID:          identity.ID,
		Email:       identity.Email,
		FullName:    identity.Metadata.FullName,
		Role:        role,
		CurrentRole: role,
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error; err != nil {
		return fmt.Errorf("failed to provision user %s: %w", identity.ID, err)
	}

	// Organization is a coach attribute; ignore identity metadata for
	// every other role.
	organization := ""
	if role == models.RoleCoach {
		organization = identity.Metadata.Organization
	}

	if err := s.ensureMembership(ctx, identity.ID, role, organization, true); err != nil {
		return err
	}

	// Sub-profile creation is best effort: a failure here must not block
	// sign-in, the profile can be completed later.
	if err := s.ensureSubProfile(ctx, identity.ID, role, organization); err != nil {
		slog.Warn("Failed to create role sub-profile during provisioning",
			"user_id", identity.ID, "role", role, "error", err)
	}

	monitoring.RecordProvisioning(ctx, role.String())
	slog.Info("Provisioned user profile", "user_id", identity.ID, "role", role)
	return nil
}

// ensureMembership inserts a role membership if one does not exist yet.
func (s *UserService) ensureMembership(ctx context.Context, userID string, role models.Role, organization string, primary bool) error {
	membership := models.UserRole{
		ID:           uuid.New().String(),
		UserID:       userID,
		Role:         role,
		Organization: organization,
		IsActive:     true,
		IsPrimary:    primary,
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&membership).Error; err != nil {
		return fmt.Errorf("failed to ensure %s membership for %s: %w", role, userID, err)
	}
	return nil
}

// ensureSubProfile creates the role-specific profile row where one applies.
func (s *UserService) ensureSubProfile(ctx context.Context, userID string, role models.Role, organization string) error {
	switch role {
	case models.RoleCoach:
		profile := models.CoachProfile{
			ID:           uuid.New().String(),
			UserID:       userID,
			Organization: organization,
		}
		// The coach profile mirrors the membership's organization, so an
		// existing row is re-synced rather than left stale.
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"organization"}),
			}).
			Create(&profile).Error
	case models.RoleStudent:
		profile := models.StudentProfile{
			ID:     uuid.New().String(),
			UserID: userID,
		}
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&profile).Error
	}
	return nil
}

// SwitchRole changes the user's active role. The user must hold an active
// membership for the target role. The update is a single conditional write
// and the result is re-read afterwards, so a concurrent membership
// revocation cannot leave the user on a role they no longer hold.
func (s *UserService) SwitchRole(ctx context.Context, userID string, target models.Role) (*models.CurrentUser, error) {
	if !target.IsValid() {
		monitoring.RecordRoleSwitch(ctx, target.String(), false)
		return nil, fmt.Errorf("%w: invalid role %q", models.ErrValidation, target)
	}

	var membership models.UserRole
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND role = ? AND is_active = ?", userID, target, true).
		First(&membership).Error
	if err != nil {
		monitoring.RecordRoleSwitch(ctx, target.String(), false)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no active %s membership", models.ErrForbidden, target)
		}
		return nil, fmt.Errorf("failed to check %s membership: %w", target, err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("current_role", target)
	if result.Error != nil {
		monitoring.RecordRoleSwitch(ctx, target.String(), false)
		return nil, fmt.Errorf("failed to switch role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		monitoring.RecordRoleSwitch(ctx, target.String(), false)
		return nil, fmt.Errorf("%w: user not found", models.ErrNotFound)
	}

	user, err := s.composeCurrentUser(ctx, userID)
	if err != nil {
		monitoring.RecordRoleSwitch(ctx, target.String(), false)
		return nil, fmt.Errorf("failed to reload user after role switch: %w", err)
	}
	if user.CurrentRole != target {
		monitoring.RecordRoleSwitch(ctx, target.String(), false)
		return nil, fmt.Errorf("%w: role switch did not take effect", models.ErrForbidden)
	}

	monitoring.RecordRoleSwitch(ctx, target.String(), true)
	slog.Info("Switched active role", "user_id", userID, "role", target)
	return user, nil
}

// AddRole grants the user an additional role membership. Granting a role the
// user already holds is a no-op success. Coaches must name an organization.
func (s *UserService) AddRole(ctx context.Context, userID string, req *models.AddRoleRequest) (*models.CurrentUser, error) {
	if !req.Role.IsValid() {
		return nil, fmt.Errorf("%w: invalid role %q", models.ErrValidation, req.Role)
	}
	if req.Role == models.RoleCoach && req.Organization == "" {
		return nil, fmt.Errorf("%w: organization is required for the coach role", models.ErrValidation)
	}

	organization := ""
	if req.Role == models.RoleCoach {
		organization = req.Organization
	}

	if err := s.ensureMembership(ctx, userID, req.Role, organization, false); err != nil {
		return nil, err
	}

	if err := s.ensureSubProfile(ctx, userID, req.Role, organization); err != nil {
		slog.Warn("Failed to create role sub-profile",
			"user_id", userID, "role", req.Role, "error", err)
	}

	user, err := s.composeCurrentUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user after role grant: %w", err)
	}

	slog.Info("Granted role membership", "user_id", userID, "role", req.Role)
	return user, nil
}

// VerifySuperAdmin reports whether the caller holds an active super admin
// membership. Callers may only verify their own ID.
func (s *UserService) VerifySuperAdmin(ctx context.Context, callerID, targetID string) (bool, error) {
	if callerID != targetID {
		return false, fmt.Errorf("%w: can only verify own account", models.ErrForbidden)
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UserRole{}).
		Where("user_id = ? AND role = ? AND is_active = ?", targetID, models.RoleSuperAdmin, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to verify super admin membership: %w", err)
	}

	return count > 0, nil
}

// Signup creates an account in the identity provider and provisions the
// application profile for it.
func (s *UserService) Signup(ctx context.Context, req *models.SignupRequest) (*models.CurrentUser, error) {
	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", models.ErrValidation)
	}

	role := req.Role
	if role == "" {
		role = defaultProfileRole
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: invalid role %q", models.ErrValidation, role)
	}
	if role == models.RoleCoach && req.Organization == "" {
		return nil, fmt.Errorf("%w: organization is required for the coach role", models.ErrValidation)
	}
	if role == models.RoleSuperAdmin {
		return nil, fmt.Errorf("%w: cannot sign up as super admin", models.ErrForbidden)
	}

	identity, err := s.idp.CreateIdentity(ctx, &idp.CreateIdentityRequest{
		Email:    req.Email,
		Password: req.Password,
		Metadata: idp.Metadata{
			FullName:     req.FullName,
			Role:         role.String(),
			Organization: req.Organization,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account in identity provider: %w", err)
	}

	if err := s.provisionUser(ctx, identity); err != nil {
		return nil, err
	}

	user, err := s.composeCurrentUser(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile after signup: %w", err)
	}

	slog.Info("Signed up new user", "user_id", identity.ID, "role", role)
	return user, nil
}

// GetProfile returns a user's profile.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.CurrentUser, error) {
	user, err := s.composeCurrentUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile edits the caller's own profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *models.UpdateProfileRequest) (*models.CurrentUser, error) {
	updates := map[string]interface{}{}
	if req.FullName != nil {
		if *req.FullName == "" {
			return nil, fmt.Errorf("%w: full name cannot be empty", models.ErrValidation)
		}
		updates["full_name"] = *req.FullName
	}

	if len(updates) > 0 {
		result := s.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ?", userID).
			Updates(updates)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to update profile: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
		}
	}

	return s.GetProfile(ctx, userID)
}

// SignOut revokes the user's sessions in the identity provider.
func (s *UserService) SignOut(ctx context.Context, userID string) error {
	if err := s.idp.SignOut(ctx, userID); err != nil {
		return fmt.Errorf("failed to sign out user %s: %w", userID, err)
	}
	slog.Info("Signed out user", "user_id", userID)
	return nil
}

// BackfillLegacyRoles creates membership rows for profiles that predate the
// membership table, so authorization can rely on memberships alone. Runs at
// startup and is safe to repeat.
func (s *UserService) BackfillLegacyRoles(ctx context.Context) (int, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("id NOT IN (?)",
			s.db.Model(&models.UserRole{}).Select("user_id")).
		Find(&users).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find profiles without memberships: %w", err)
	}

	backfilled := 0
	for _, user := range users {
		role := user.Role
		if !role.IsValid() {
			role = defaultProfileRole
		}
		if err := s.ensureMembership(ctx, user.ID, role, "", true); err != nil {
			return backfilled, err
		}
		backfilled++
	}

	if backfilled > 0 {
		slog.Info("Backfilled legacy role memberships", "count", backfilled)
	}
	return backfilled, nil
}
