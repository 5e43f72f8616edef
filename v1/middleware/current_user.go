package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/admitpath/portal-backend/idp"
	"github.com/admitpath/portal-backend/v1/models"
	authutils "github.com/admitpath/portal-backend/v1/utils"
)

// UserResolver resolves a verified token identity into the application user,
// provisioning the profile on first sight.
type UserResolver interface {
	ResolveCurrentUser(ctx context.Context, identity *idp.Identity) (*models.CurrentUser, error)
}

// CurrentUserMiddleware loads the application user for the verified identity
// and stores it in the request context. Requests without a resolvable user
// are rejected.
type CurrentUserMiddleware struct {
	resolver  UserResolver
	skipPaths []string
}

// NewCurrentUserMiddleware creates a new current-user middleware
func NewCurrentUserMiddleware(resolver UserResolver, skipPaths []string) *CurrentUserMiddleware {
	return &CurrentUserMiddleware{resolver: resolver, skipPaths: skipPaths}
}

// ResolveUser returns a middleware function that attaches the current user
func (m *CurrentUserMiddleware) ResolveUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := authutils.GetIdentity(r.Context())
		if err != nil {
			slog.Warn("No identity in request context", "path", r.URL.Path, "method", r.Method)
			authutils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, err := m.resolver.ResolveCurrentUser(r.Context(), identity)
		if err != nil || user == nil {
			slog.Error("Failed to resolve current user", "error", err, "user_id", identity.ID, "path", r.URL.Path)
			authutils.RespondWithError(w, http.StatusUnauthorized, "Unable to resolve user profile")
			return
		}

		ctx := authutils.SetCurrentUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *CurrentUserMiddleware) shouldSkip(path string) bool {
	for _, skipPath := range m.skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}
