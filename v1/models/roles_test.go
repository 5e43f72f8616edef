package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_IsValid(t *testing.T) {
	for _, role := range AllRoles {
		assert.True(t, role.IsValid(), "expected %s to be valid", role)
	}

	assert.False(t, Role("").IsValid())
	assert.False(t, Role("admin").IsValid())
	assert.False(t, Role("Student").IsValid())
}

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Role
	}{
		{"KnownRole", "coach", RoleCoach},
		{"SuperAdmin", "super_admin", RoleSuperAdmin},
		{"EmptyDefaultsToStudent", "", RoleStudent},
		{"UnknownDefaultsToStudent", "wizard", RoleStudent},
		{"CaseSensitive", "COACH", RoleStudent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeRole(tt.input))
		})
	}
}

func TestCurrentUser_EffectiveRole(t *testing.T) {
	user := &CurrentUser{Role: RoleStudent, CurrentRole: RoleCoach}
	assert.Equal(t, RoleCoach, user.EffectiveRole())

	// Without an explicit active role the base role applies
	user.CurrentRole = ""
	assert.Equal(t, RoleStudent, user.EffectiveRole())
}

func TestCurrentUser_HasActiveRole(t *testing.T) {
	user := &CurrentUser{
		Roles: []UserRole{
			{Role: RoleParent, IsActive: true},
			{Role: RoleCoach, IsActive: false},
		},
	}

	assert.True(t, user.HasActiveRole(RoleParent))
	assert.False(t, user.HasActiveRole(RoleCoach), "inactive membership must not count")
	assert.False(t, user.HasActiveRole(RoleCounselor))
}
