package models

import "time"

// User is the application profile row backing an identity-provider account.
// The ID matches the identity provider's user ID.
type User struct {
	ID          string `gorm:"column:id;primaryKey" json:"id"`
	Email       string `gorm:"column:email;uniqueIndex;not null" json:"email"`
	FullName    string `gorm:"column:full_name" json:"fullName"`
	Role        Role   `gorm:"column:role;not null;default:student" json:"role"`
	CurrentRole Role   `gorm:"column:current_role;not null;default:student" json:"currentRole"`
	BaseModel
}

func (User) TableName() string {
	return "users"
}

// UserRole records one role membership for a user. A user holds at most one
// row per role, and exactly one membership is marked primary.
type UserRole struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	UserID       string `gorm:"column:user_id;not null;uniqueIndex:idx_user_roles_user_role" json:"userId"`
	Role         Role   `gorm:"column:role;not null;uniqueIndex:idx_user_roles_user_role" json:"role"`
	Organization string `gorm:"column:organization" json:"organization,omitempty"`
	IsActive     bool   `gorm:"column:is_active;not null;default:true" json:"isActive"`
	IsPrimary    bool   `gorm:"column:is_primary;not null;default:false" json:"isPrimary"`
	BaseModel
}

func (UserRole) TableName() string {
	return "user_roles"
}

// CoachProfile holds coach-specific profile data.
type CoachProfile struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	UserID       string `gorm:"column:user_id;not null;uniqueIndex" json:"userId"`
	Organization string `gorm:"column:organization" json:"organization,omitempty"`
	Bio          string `gorm:"column:bio" json:"bio,omitempty"`
	BaseModel
}

func (CoachProfile) TableName() string {
	return "coach_profiles"
}

// StudentProfile holds student-specific profile data.
type StudentProfile struct {
	ID             string `gorm:"column:id;primaryKey" json:"id"`
	UserID         string `gorm:"column:user_id;not null;uniqueIndex" json:"userId"`
	GraduationYear int    `gorm:"column:graduation_year" json:"graduationYear,omitempty"`
	SchoolName     string `gorm:"column:school_name" json:"schoolName,omitempty"`
	BaseModel
}

func (StudentProfile) TableName() string {
	return "student_profiles"
}

// CoachStudentAssignment links a coach to a student. Assignments are revoked
// by clearing IsActive rather than deleting the row.
type CoachStudentAssignment struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	CoachID    string    `gorm:"column:coach_id;not null;uniqueIndex:idx_assignments_coach_student" json:"coachId"`
	StudentID  string    `gorm:"column:student_id;not null;uniqueIndex:idx_assignments_coach_student" json:"studentId"`
	AssignedBy string    `gorm:"column:assigned_by;not null" json:"assignedBy"`
	AssignedAt time.Time `gorm:"column:assigned_at;default:CURRENT_TIMESTAMP" json:"assignedAt"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true" json:"isActive"`
	Notes      string    `gorm:"column:notes" json:"notes,omitempty"`
	BaseModel
}

func (CoachStudentAssignment) TableName() string {
	return "coach_student_assignments"
}

// InvitationToken is a single-use invitation issued by a student to a parent
// or counselor email. The token ID itself is the bearer credential.
type InvitationToken struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Email        string    `gorm:"column:email;not null;index" json:"email"`
	StudentID    string    `gorm:"column:student_id;not null;index" json:"studentId"`
	StudentName  string    `gorm:"column:student_name" json:"studentName,omitempty"`
	Relationship string    `gorm:"column:relationship;not null" json:"relationship"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null" json:"expiresAt"`
	Used         bool      `gorm:"column:used;not null;default:false" json:"used"`
	UsedBy       string    `gorm:"column:used_by" json:"usedBy,omitempty"`
	BaseModel
}

func (InvitationToken) TableName() string {
	return "invitation_tokens"
}

// StudentLink connects a student account to the parent or counselor account
// that accepted the student's invitation.
type StudentLink struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	StudentID    string `gorm:"column:student_id;not null;uniqueIndex:idx_student_links_pair" json:"studentId"`
	LinkedUserID string `gorm:"column:linked_user_id;not null;uniqueIndex:idx_student_links_pair" json:"linkedUserId"`
	Relationship string `gorm:"column:relationship" json:"relationship,omitempty"`
	BaseModel
}

func (StudentLink) TableName() string {
	return "student_links"
}

// BreakGlassToken is a short-lived, single-use token minted in exchange for
// the break-glass code. It authorises one emergency admin operation.
type BreakGlassToken struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	IssuedTo  string    `gorm:"column:issued_to;not null" json:"issuedTo"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null" json:"expiresAt"`
	Used      bool      `gorm:"column:used;not null;default:false" json:"used"`
	BaseModel
}

func (BreakGlassToken) TableName() string {
	return "break_glass_tokens"
}

// BreakGlassAudit is an append-only record of every break-glass operation.
type BreakGlassAudit struct {
	ID         string `gorm:"column:id;primaryKey" json:"id"`
	TokenID    string `gorm:"column:token_id;not null" json:"tokenId"`
	Operation  string `gorm:"column:operation;not null" json:"operation"`
	TargetUser string `gorm:"column:target_user;not null" json:"targetUser"`
	Detail     string `gorm:"column:detail" json:"detail,omitempty"`
	BaseModel
}

func (BreakGlassAudit) TableName() string {
	return "break_glass_audit"
}

// CurrentUser is the composed view of the authenticated user handed to
// middleware and handlers: profile fields plus role memberships.
type CurrentUser struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"fullName"`
	Role         Role       `json:"role"`
	CurrentRole  Role       `json:"currentRole"`
	Organization string     `json:"organization,omitempty"`
	Roles        []UserRole `json:"roles"`
}

// EffectiveRole returns the role authorization decisions are made against.
func (u *CurrentUser) EffectiveRole() Role {
	if u.CurrentRole != "" {
		return u.CurrentRole
	}
	return u.Role
}

// HasActiveRole reports whether the user holds an active membership for role.
func (u *CurrentUser) HasActiveRole(role Role) bool {
	for _, r := range u.Roles {
		if r.Role == role && r.IsActive {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the user's effective role is super_admin.
func (u *CurrentUser) IsSuperAdmin() bool {
	return u.EffectiveRole() == RoleSuperAdmin
}

// SwitchRoleRequest is the payload for switching the active role.
type SwitchRoleRequest struct {
	Role Role `json:"role"`
}

// AddRoleRequest is the payload for granting the caller an additional role.
type AddRoleRequest struct {
	Role         Role   `json:"role"`
	Organization string `json:"organization,omitempty"`
}

// VerifySuperAdminRequest carries the user ID to verify. Callers may only
// verify their own ID.
type VerifySuperAdminRequest struct {
	UserID string `json:"userId"`
}

// VerifySuperAdminResponse reports the verification result.
type VerifySuperAdminResponse struct {
	HasAccess bool `json:"hasAccess"`
}

// SignupRequest is the payload for creating a new account.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"fullName"`
	Role         Role   `json:"role"`
	Organization string `json:"organization,omitempty"`
	Invitation   string `json:"invitation,omitempty"`
}

// AssignmentRequest is the payload for creating one coach-student assignment.
type AssignmentRequest struct {
	CoachID   string `json:"coachId"`
	StudentID string `json:"studentId"`
	Notes     string `json:"notes,omitempty"`
}

// BulkAssignmentRequest assigns several students to one coach.
type BulkAssignmentRequest struct {
	CoachID    string   `json:"coachId"`
	StudentIDs []string `json:"studentIds"`
	Notes      string   `json:"notes,omitempty"`
}

// BulkAssignmentResponse reports how many assignments were created and how
// many were skipped as duplicates.
type BulkAssignmentResponse struct {
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
}

// UpdateAssignmentRequest is the payload for editing an assignment.
type UpdateAssignmentRequest struct {
	Notes    *string `json:"notes,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// AssignmentView is an assignment joined with the coach and student names.
type AssignmentView struct {
	CoachStudentAssignment
	CoachName   string `json:"coachName"`
	StudentName string `json:"studentName"`
}

// InviteRequest is a student's request to invite a parent or counselor.
type InviteRequest struct {
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
}

// ValidateInvitationResponse describes a pending invitation to the signup
// flow without consuming it.
type ValidateInvitationResponse struct {
	Valid        bool      `json:"valid"`
	Email        string    `json:"email,omitempty"`
	StudentName  string    `json:"studentName,omitempty"`
	Relationship string    `json:"relationship,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// UpdateProfileRequest is the payload for editing the caller's profile.
type UpdateProfileRequest struct {
	FullName *string `json:"fullName,omitempty"`
}

// BreakGlassRequest exchanges the break-glass code for a one-time token.
type BreakGlassRequest struct {
	Code string `json:"code"`
	For  string `json:"for"`
	// RequestIP is filled in by the handler from the connection, never
	// from the request body.
	RequestIP string `json:"-"`
}

// BreakGlassTokenResponse returns the minted one-time token.
type BreakGlassTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ForceRoleSwitchRequest forces a user's active role using a break-glass token.
type ForceRoleSwitchRequest struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// ResetPasswordRequest resets a user's password using a break-glass token.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

// ActionResponse is a generic success envelope.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CollectionResponse wraps list results with a count.
type CollectionResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}
