package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/portal-backend/idp"
	"github.com/admitpath/portal-backend/v1/models"
)

// MockIdentityProvider is a mock implementation of idp.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) CreateIdentity(ctx context.Context, req *idp.CreateIdentityRequest) (*idp.Identity, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Identity), args.Error(1)
}

func (m *MockIdentityProvider) GetIdentity(ctx context.Context, id string) (*idp.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Identity), args.Error(1)
}

func (m *MockIdentityProvider) SetEmailConfirmed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityProvider) ResetPassword(ctx context.Context, email, newPassword string) error {
	args := m.Called(ctx, email, newPassword)
	return args.Error(0)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func studentIdentity(id, email string) *idp.Identity {
	return &idp.Identity{
		ID:    id,
		Email: email,
		Metadata: idp.Metadata{
			FullName: "Test Student",
			Role:     "student",
		},
	}
}

func TestUserService_ResolveCurrentUser(t *testing.T) {
	t.Run("ExistingProfile", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		require.NoError(t, db.Create(&models.User{
			ID: "user-1", Email: "existing@example.com", FullName: "Existing User",
			Role: models.RoleCoach, CurrentRole: models.RoleCoach,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "role-1", UserID: "user-1", Role: models.RoleCoach,
			Organization: "Bright Futures", IsActive: true, IsPrimary: true,
		}).Error)

		user, err := service.ResolveCurrentUser(ctx, &idp.Identity{ID: "user-1", Email: "existing@example.com"})

		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
		assert.Equal(t, models.RoleCoach, user.CurrentRole)
		assert.Equal(t, "Bright Futures", user.Organization)
		assert.Len(t, user.Roles, 1)
	})

	t.Run("OrganizationFollowsActiveRole", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		// Acting as student, even though an active coach membership with
		// an organization exists alongside it.
		require.NoError(t, db.Create(&models.User{
			ID: "dual-1", Email: "dual@example.com", FullName: "Dual Role",
			Role: models.RoleStudent, CurrentRole: models.RoleStudent,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "dr1", UserID: "dual-1", Role: models.RoleStudent, IsActive: true, IsPrimary: true,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "dr2", UserID: "dual-1", Role: models.RoleCoach,
			Organization: "Lincoln HS", IsActive: true,
		}).Error)

		user, err := service.ResolveCurrentUser(ctx, &idp.Identity{ID: "dual-1", Email: "dual@example.com"})

		require.NoError(t, err)
		assert.Equal(t, models.RoleStudent, user.CurrentRole)
		assert.Empty(t, user.Organization)

		// After switching to coach the organization follows along
		switched, err := service.SwitchRole(ctx, "dual-1", models.RoleCoach)
		require.NoError(t, err)
		assert.Equal(t, "Lincoln HS", switched.Organization)
	})

	t.Run("ProvisionsMissingProfile", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		user, err := service.ResolveCurrentUser(ctx, studentIdentity("new-user", "new@example.com"))

		require.NoError(t, err)
		assert.Equal(t, "new-user", user.ID)
		assert.Equal(t, models.RoleStudent, user.Role)
		assert.Equal(t, models.RoleStudent, user.CurrentRole)
		require.Len(t, user.Roles, 1)
		assert.True(t, user.Roles[0].IsPrimary)
		assert.True(t, user.Roles[0].IsActive)

		// Sub-profile was created as part of provisioning
		var profile models.StudentProfile
		assert.NoError(t, db.First(&profile, "user_id = ?", "new-user").Error)
	})

	t.Run("ProvisionsCoachWithOrganization", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		identity := &idp.Identity{
			ID:    "coach-1",
			Email: "coach@example.com",
			Metadata: idp.Metadata{
				FullName:     "Coach One",
				Role:         "coach",
				Organization: "Bright Futures",
			},
		}

		user, err := service.ResolveCurrentUser(ctx, identity)

		require.NoError(t, err)
		assert.Equal(t, models.RoleCoach, user.CurrentRole)
		assert.Equal(t, "Bright Futures", user.Organization)

		var profile models.CoachProfile
		require.NoError(t, db.First(&profile, "user_id = ?", "coach-1").Error)
		assert.Equal(t, "Bright Futures", profile.Organization)
	})

	t.Run("InvalidRoleDefaultsToStudent", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		identity := &idp.Identity{
			ID:       "odd-user",
			Email:    "odd@example.com",
			Metadata: idp.Metadata{Role: "wizard"},
		}

		user, err := service.ResolveCurrentUser(ctx, identity)

		require.NoError(t, err)
		assert.Equal(t, models.RoleStudent, user.Role)
		assert.Equal(t, models.RoleStudent, user.CurrentRole)
	})

	t.Run("ProvisioningIsIdempotent", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		identity := studentIdentity("repeat-user", "repeat@example.com")

		first, err := service.ResolveCurrentUser(ctx, identity)
		require.NoError(t, err)
		second, err := service.ResolveCurrentUser(ctx, identity)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, second.Roles, 1)

		var userCount, roleCount int64
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", "repeat-user").Count(&userCount).Error)
		require.NoError(t, db.Model(&models.UserRole{}).Where("user_id = ?", "repeat-user").Count(&roleCount).Error)
		assert.Equal(t, int64(1), userCount)
		assert.Equal(t, int64(1), roleCount)
	})

	t.Run("ConcurrentFirstRequestsProvisionOnce", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		identity := &idp.Identity{
			ID:    "race-coach",
			Email: "race@example.com",
			Metadata: idp.Metadata{
				FullName:     "Race Coach",
				Role:         "coach",
				Organization: "Bright Futures",
			},
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = service.ResolveCurrentUser(ctx, identity)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}

		var userCount, roleCount, profileCount int64
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", "race-coach").Count(&userCount).Error)
		require.NoError(t, db.Model(&models.UserRole{}).Where("user_id = ?", "race-coach").Count(&roleCount).Error)
		require.NoError(t, db.Model(&models.CoachProfile{}).Where("user_id = ?", "race-coach").Count(&profileCount).Error)
		assert.Equal(t, int64(1), userCount)
		assert.Equal(t, int64(1), roleCount)
		assert.Equal(t, int64(1), profileCount)
	})

	t.Run("NonCoachMetadataOrganizationIgnored", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		identity := &idp.Identity{
			ID:    "student-org",
			Email: "studentorg@example.com",
			Metadata: idp.Metadata{
				FullName:     "Student With Org",
				Role:         "student",
				Organization: "Lincoln HS",
			},
		}

		user, err := service.ResolveCurrentUser(ctx, identity)

		require.NoError(t, err)
		assert.Empty(t, user.Organization)

		var membership models.UserRole
		require.NoError(t, db.First(&membership, "user_id = ?", "student-org").Error)
		assert.Empty(t, membership.Organization)
	})

	t.Run("MissingIdentityFailsValidation", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))

		_, err := service.ResolveCurrentUser(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("FailsClosedWhenDatabaseUnavailable", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))

		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		user, err := service.ResolveCurrentUser(context.Background(), studentIdentity("user-x", "x@example.com"))
		assert.Error(t, err)
		assert.Nil(t, user)
	})
}

func TestUserService_SwitchRole(t *testing.T) {
	setupMultiRoleUser := func(t *testing.T) (*UserService, context.Context) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))

		require.NoError(t, db.Create(&models.User{
			ID: "multi-user", Email: "multi@example.com",
			Role: models.RoleParent, CurrentRole: models.RoleParent,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "r1", UserID: "multi-user", Role: models.RoleParent, IsActive: true, IsPrimary: true,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "r2", UserID: "multi-user", Role: models.RoleCounselor, IsActive: true,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "r3", UserID: "multi-user", Role: models.RoleCoach, IsActive: false,
		}).Error)

		return service, context.Background()
	}

	t.Run("SwitchToHeldRole", func(t *testing.T) {
		service, ctx := setupMultiRoleUser(t)

		user, err := service.SwitchRole(ctx, "multi-user", models.RoleCounselor)

		require.NoError(t, err)
		assert.Equal(t, models.RoleCounselor, user.CurrentRole)
	})

	t.Run("SwitchToSameRoleIsIdempotent", func(t *testing.T) {
		service, ctx := setupMultiRoleUser(t)

		user, err := service.SwitchRole(ctx, "multi-user", models.RoleParent)

		require.NoError(t, err)
		assert.Equal(t, models.RoleParent, user.CurrentRole)
	})

	t.Run("SwitchToUnheldRoleForbidden", func(t *testing.T) {
		service, ctx := setupMultiRoleUser(t)

		_, err := service.SwitchRole(ctx, "multi-user", models.RoleSuperAdmin)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("SwitchToInactiveMembershipForbidden", func(t *testing.T) {
		service, ctx := setupMultiRoleUser(t)

		_, err := service.SwitchRole(ctx, "multi-user", models.RoleCoach)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("SwitchToInvalidRoleFailsValidation", func(t *testing.T) {
		service, ctx := setupMultiRoleUser(t)

		_, err := service.SwitchRole(ctx, "multi-user", models.Role("wizard"))
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestUserService_AddRole(t *testing.T) {
	setupStudent := func(t *testing.T) (*UserService, context.Context) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))

		require.NoError(t, db.Create(&models.User{
			ID: "student-1", Email: "student@example.com",
			Role: models.RoleStudent, CurrentRole: models.RoleStudent,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "sr1", UserID: "student-1", Role: models.RoleStudent, IsActive: true, IsPrimary: true,
		}).Error)

		return service, context.Background()
	}

	t.Run("GrantNewRole", func(t *testing.T) {
		service, ctx := setupStudent(t)

		user, err := service.AddRole(ctx, "student-1", &models.AddRoleRequest{Role: models.RoleParent})

		require.NoError(t, err)
		assert.Len(t, user.Roles, 2)
		// Active role is unchanged until the user switches explicitly
		assert.Equal(t, models.RoleStudent, user.CurrentRole)
	})

	t.Run("DuplicateGrantIsNoOp", func(t *testing.T) {
		service, ctx := setupStudent(t)

		user, err := service.AddRole(ctx, "student-1", &models.AddRoleRequest{Role: models.RoleStudent})

		require.NoError(t, err)
		assert.Len(t, user.Roles, 1)
		// The original membership keeps its primary flag
		assert.True(t, user.Roles[0].IsPrimary)
	})

	t.Run("CoachRequiresOrganization", func(t *testing.T) {
		service, ctx := setupStudent(t)

		_, err := service.AddRole(ctx, "student-1", &models.AddRoleRequest{Role: models.RoleCoach})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("CoachWithOrganization", func(t *testing.T) {
		service, ctx := setupStudent(t)

		user, err := service.AddRole(ctx, "student-1", &models.AddRoleRequest{
			Role:         models.RoleCoach,
			Organization: "Bright Futures",
		})

		require.NoError(t, err)
		assert.True(t, user.HasActiveRole(models.RoleCoach))

		// Exactly one primary membership exists
		primaries := 0
		for _, r := range user.Roles {
			if r.IsPrimary {
				primaries++
			}
		}
		assert.Equal(t, 1, primaries)
	})

	t.Run("CoachGrantRefreshesStaleProfile", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))
		ctx := context.Background()

		require.NoError(t, db.Create(&models.User{
			ID: "student-1", Email: "student@example.com",
			Role: models.RoleStudent, CurrentRole: models.RoleStudent,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "sr1", UserID: "student-1", Role: models.RoleStudent, IsActive: true, IsPrimary: true,
		}).Error)
		require.NoError(t, db.Create(&models.CoachProfile{
			ID: "cp-stale", UserID: "student-1", Organization: "Old Academy",
		}).Error)

		_, err := service.AddRole(ctx, "student-1", &models.AddRoleRequest{
			Role:         models.RoleCoach,
			Organization: "Bright Futures",
		})
		require.NoError(t, err)

		var profiles []models.CoachProfile
		require.NoError(t, db.Find(&profiles, "user_id = ?", "student-1").Error)
		require.Len(t, profiles, 1)
		assert.Equal(t, "Bright Futures", profiles[0].Organization)
	})

	t.Run("InvalidRoleFailsValidation", func(t *testing.T) {
		service, ctx := setupStudent(t)

		_, err := service.AddRole(ctx, "student-1", &models.AddRoleRequest{Role: models.Role("wizard")})
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestUserService_VerifySuperAdmin(t *testing.T) {
	setupAdmin := func(t *testing.T) (*UserService, context.Context) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))

		require.NoError(t, db.Create(&models.User{
			ID: "admin-1", Email: "admin@example.com",
			Role: models.RoleSuperAdmin, CurrentRole: models.RoleSuperAdmin,
		}).Error)
		require.NoError(t, db.Create(&models.UserRole{
			ID: "ar1", UserID: "admin-1", Role: models.RoleSuperAdmin, IsActive: true, IsPrimary: true,
		}).Error)

		return service, context.Background()
	}

	t.Run("OwnAccountWithMembership", func(t *testing.T) {
		service, ctx := setupAdmin(t)

		isAdmin, err := service.VerifySuperAdmin(ctx, "admin-1", "admin-1")
		require.NoError(t, err)
		assert.True(t, isAdmin)
	})

	t.Run("OtherAccountForbidden", func(t *testing.T) {
		service, ctx := setupAdmin(t)

		_, err := service.VerifySuperAdmin(ctx, "admin-1", "someone-else")
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("NoMembershipReportsFalse", func(t *testing.T) {
		service, ctx := setupAdmin(t)

		isAdmin, err := service.VerifySuperAdmin(ctx, "plain-user", "plain-user")
		require.NoError(t, err)
		assert.False(t, isAdmin)
	})
}

func TestUserService_Signup(t *testing.T) {
	t.Run("CreatesIdentityAndProfile", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		mockIDP := new(MockIdentityProvider)
		service := NewUserService(db, mockIDP)
		ctx := context.Background()

		mockIDP.On("CreateIdentity", ctx, mock.AnythingOfType("*idp.CreateIdentityRequest")).
			Return(&idp.Identity{
				ID:    "idp-123",
				Email: "signup@example.com",
				Metadata: idp.Metadata{
					FullName: "New Parent",
					Role:     "parent",
				},
			}, nil)

		user, err := service.Signup(ctx, &models.SignupRequest{
			Email:    "signup@example.com",
			Password: "secret123",
			FullName: "New Parent",
			Role:     models.RoleParent,
		})

		require.NoError(t, err)
		assert.Equal(t, "idp-123", user.ID)
		assert.Equal(t, models.RoleParent, user.CurrentRole)
		mockIDP.AssertExpectations(t)
	})

	t.Run("SuperAdminSignupForbidden", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewUserService(db, new(MockIdentityProvider))

		_, err := service.Signup(context.Background(), &models.SignupRequest{
			Email:    "evil@example.com",
			Password: "secret123",
			Role:     models.RoleSuperAdmin,
		})
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("IdentityProviderFailure", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		mockIDP := new(MockIdentityProvider)
		service := NewUserService(db, mockIDP)
		ctx := context.Background()

		mockIDP.On("CreateIdentity", ctx, mock.AnythingOfType("*idp.CreateIdentityRequest")).
			Return(nil, errors.New("upstream unavailable"))

		_, err := service.Signup(ctx, &models.SignupRequest{
			Email:    "fail@example.com",
			Password: "secret123",
		})
		assert.Error(t, err)
	})
}

func TestUserService_BackfillLegacyRoles(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	service := NewUserService(db, new(MockIdentityProvider))
	ctx := context.Background()

	// One legacy profile with no membership row, one already migrated
	require.NoError(t, db.Create(&models.User{
		ID: "legacy-1", Email: "legacy@example.com",
		Role: models.RoleCounselor, CurrentRole: models.RoleCounselor,
	}).Error)
	require.NoError(t, db.Create(&models.User{
		ID: "modern-1", Email: "modern@example.com",
		Role: models.RoleStudent, CurrentRole: models.RoleStudent,
	}).Error)
	require.NoError(t, db.Create(&models.UserRole{
		ID: "m1", UserID: "modern-1", Role: models.RoleStudent, IsActive: true, IsPrimary: true,
	}).Error)

	count, err := service.BackfillLegacyRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var membership models.UserRole
	require.NoError(t, db.First(&membership, "user_id = ?", "legacy-1").Error)
	assert.Equal(t, models.RoleCounselor, membership.Role)
	assert.True(t, membership.IsActive)
	assert.True(t, membership.IsPrimary)

	// Running again does nothing
	count, err = service.BackfillLegacyRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUserService_UpdateProfile(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	service := NewUserService(db, new(MockIdentityProvider))
	ctx := context.Background()

	require.NoError(t, db.Create(&models.User{
		ID: "user-p", Email: "p@example.com", FullName: "Before",
		Role: models.RoleStudent, CurrentRole: models.RoleStudent,
	}).Error)

	name := "After"
	user, err := service.UpdateProfile(ctx, "user-p", &models.UpdateProfileRequest{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "After", user.FullName)

	empty := ""
	_, err = service.UpdateProfile(ctx, "user-p", &models.UpdateProfileRequest{FullName: &empty})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = service.UpdateProfile(ctx, "missing", &models.UpdateProfileRequest{FullName: &name})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
