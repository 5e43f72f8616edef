package utils

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/admitpath/portal-backend/idp"
	"github.com/admitpath/portal-backend/v1/models"
)

// AuthContextKey is the key used to store authentication context in request context
type AuthContextKey string

const (
	AuthContextKeyIdentity AuthContextKey = "authenticated_identity"
	AuthContextKeyUser     AuthContextKey = "current_user"
)

// ExtractBearerToken extracts the Bearer token from the Authorization header
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is missing")
	}

	// Check if it starts with "Bearer "
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("authorization header must start with 'Bearer '")
	}

	// Extract the token part
	token := strings.TrimPrefix(authHeader, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", fmt.Errorf("bearer token is empty")
	}

	return token, nil
}

// SetIdentity stores the verified token identity in the request context
func SetIdentity(ctx context.Context, identity *idp.Identity) context.Context {
	return context.WithValue(ctx, AuthContextKeyIdentity, identity)
}

// GetIdentity retrieves the verified token identity from the request context
func GetIdentity(ctx context.Context) (*idp.Identity, error) {
	identity, ok := ctx.Value(AuthContextKeyIdentity).(*idp.Identity)
	if !ok || identity == nil {
		return nil, fmt.Errorf("no authenticated identity found in context")
	}
	return identity, nil
}

// SetCurrentUser stores the resolved application user in the request context
func SetCurrentUser(ctx context.Context, user *models.CurrentUser) context.Context {
	return context.WithValue(ctx, AuthContextKeyUser, user)
}

// GetCurrentUser retrieves the resolved application user from the request context
func GetCurrentUser(ctx context.Context) (*models.CurrentUser, error) {
	user, ok := ctx.Value(AuthContextKeyUser).(*models.CurrentUser)
	if !ok || user == nil {
		return nil, fmt.Errorf("no current user found in context")
	}
	return user, nil
}

// RequireCurrentUser is a helper that checks if a user is resolved for the request
func RequireCurrentUser(r *http.Request) (*models.CurrentUser, error) {
	return GetCurrentUser(r.Context())
}

// RequireAnyRole checks if the current user's active role is one of the required roles
func RequireAnyRole(r *http.Request, requiredRoles ...models.Role) (*models.CurrentUser, error) {
	user, err := RequireCurrentUser(r)
	if err != nil {
		return nil, err
	}

	effective := user.EffectiveRole()
	for _, role := range requiredRoles {
		if effective == role {
			return user, nil
		}
	}

	roleNames := make([]string, len(requiredRoles))
	for i, role := range requiredRoles {
		roleNames[i] = role.String()
	}
	return nil, fmt.Errorf("user does not have any of the required roles: %s", strings.Join(roleNames, ", "))
}

// GetRequestIP extracts the client IP address from the request
func GetRequestIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for load balancers/proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	if r.RemoteAddr != "" {
		// RemoteAddr is in format "IP:port", extract just the IP
		if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
			return r.RemoteAddr[:idx]
		}
		return r.RemoteAddr
	}

	return "unknown"
}
