package models

// Role identifies one of the application roles a user can hold.
type Role string

const (
	RoleStudent    Role = "student"
	RoleParent     Role = "parent"
	RoleCounselor  Role = "counselor"
	RoleCoach      Role = "coach"
	RoleSuperAdmin Role = "super_admin"
)

// AllRoles lists every role the application recognises.
var AllRoles = []Role{RoleStudent, RoleParent, RoleCounselor, RoleCoach, RoleSuperAdmin}

// IsValid reports whether r is one of the recognised roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleParent, RoleCounselor, RoleCoach, RoleSuperAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// NormalizeRole maps an arbitrary string onto a valid role. Unknown or
// empty values fall back to student so a bad identity record never blocks
// sign-in.
func NormalizeRole(s string) Role {
	r := Role(s)
	if r.IsValid() {
		return r
	}
	return RoleStudent
}
