package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/admitpath/portal-backend/monitoring"
	"github.com/admitpath/portal-backend/v1/models"
	authutils "github.com/admitpath/portal-backend/v1/utils"
)

// StudentAccessChecker decides whether a coach may act on a student's data.
type StudentAccessChecker interface {
	HasActiveAssignment(ctx context.Context, coachID, studentID string) (bool, error)
}

// AuthorizationMiddleware provides role-based access control. Decisions are
// made against the user's active role only.
type AuthorizationMiddleware struct {
	assignments StudentAccessChecker
}

// NewAuthorizationMiddleware creates a new authorization middleware
func NewAuthorizationMiddleware(assignments StudentAccessChecker) *AuthorizationMiddleware {
	return &AuthorizationMiddleware{assignments: assignments}
}

// RequireRole returns a middleware that requires a specific active role
func (a *AuthorizationMiddleware) RequireRole(requiredRole models.Role) func(http.Handler) http.Handler {
	return a.RequireAnyRole(requiredRole)
}

// RequireAnyRole returns a middleware that requires the user's active role to
// be one of the specified roles
func (a *AuthorizationMiddleware) RequireAnyRole(requiredRoles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authutils.RequireAnyRole(r, requiredRoles...)
			if err != nil {
				roleNames := make([]string, len(requiredRoles))
				for i, role := range requiredRoles {
					roleNames[i] = role.String()
				}

				slog.Warn("Role requirement not met",
					"required_roles", strings.Join(roleNames, ", "),
					"path", r.URL.Path,
					"method", r.Method,
					"error", err)
				monitoring.RecordAuthzDecision(r.Context(), "role", false)
				authutils.RespondWithError(w, http.StatusForbidden, "Insufficient privileges")
				return
			}

			slog.Debug("Role requirement satisfied",
				"user", user.Email,
				"active_role", user.EffectiveRole(),
				"path", r.URL.Path,
				"method", r.Method)
			monitoring.RecordAuthzDecision(r.Context(), "role", true)

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin is a convenience middleware for super-admin-only routes
func (a *AuthorizationMiddleware) RequireSuperAdmin() func(http.Handler) http.Handler {
	return a.RequireRole(models.RoleSuperAdmin)
}

// CheckStudentAccess verifies the user may act on the given student's data.
// Super admins always pass. Coaches need an active assignment to the student.
// Everyone else is denied. Used at handler level where the student ID comes
// from the request path.
func (a *AuthorizationMiddleware) CheckStudentAccess(ctx context.Context, user *models.CurrentUser, studentID string) (bool, error) {
	if user.IsSuperAdmin() {
		monitoring.RecordAuthzDecision(ctx, "student_access", true)
		return true, nil
	}

	if user.EffectiveRole() != models.RoleCoach {
		monitoring.RecordAuthzDecision(ctx, "student_access", false)
		return false, nil
	}

	allowed, err := a.assignments.HasActiveAssignment(ctx, user.ID, studentID)
	if err != nil {
		return false, err
	}

	monitoring.RecordAuthzDecision(ctx, "student_access", allowed)
	return allowed, nil
}
