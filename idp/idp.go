package idp

import "context"

// IdentityProvider defines the contract every identity provider backend
// must satisfy. All account lifecycle operations go through this interface;
// the application never talks to the provider's API directly.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, req *CreateIdentityRequest) (*Identity, error)
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	SetEmailConfirmed(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, email string, newPassword string) error
	SignOut(ctx context.Context, userID string) error
}

// Metadata carries the signup attributes stored alongside an identity.
// It is used only for first-time profile provisioning.
type Metadata struct {
	FullName     string
	Role         string
	Organization string
}

// Identity is the provider-verified "who is making this request" record.
type Identity struct {
	ID       string
	Email    string
	Metadata Metadata
}

// CreateIdentityRequest holds the inputs for identity creation.
type CreateIdentityRequest struct {
	Email    string
	Password string
	Metadata Metadata
}
