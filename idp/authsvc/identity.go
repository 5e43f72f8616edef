package authsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/admitpath/portal-backend/idp"
)

type createIdentityRequestBody struct {
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Metadata identityMetadata `json:"user_metadata"`
}

type identityMetadata struct {
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	Organization string `json:"organization,omitempty"`
}

type identityResponseBody struct {
	ID       string           `json:"id"`
	Email    string           `json:"email"`
	Metadata identityMetadata `json:"user_metadata"`
}

type resetPasswordRequestBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateIdentity registers a new identity with the authentication service.
func (a *Client) CreateIdentity(ctx context.Context, req *idp.CreateIdentityRequest) (*idp.Identity, error) {
	url := fmt.Sprintf("%s/admin/users", a.BaseURL)

	body := createIdentityRequestBody{
		Email:    req.Email,
		Password: req.Password,
		Metadata: identityMetadata{
			FullName:     req.Metadata.FullName,
			Role:         req.Metadata.Role,
			Organization: req.Metadata.Organization,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to create identity, status code: %d", res.StatusCode)
	}

	var response identityResponseBody
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return identityFromResponse(&response), nil
}

// GetIdentity fetches an identity by its provider-assigned id.
func (a *Client) GetIdentity(ctx context.Context, id string) (*idp.Identity, error) {
	url := fmt.Sprintf("%s/admin/users/%s", a.BaseURL, id)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	res, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get identity, status code: %d", res.StatusCode)
	}

	var response identityResponseBody
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return identityFromResponse(&response), nil
}

// SetEmailConfirmed marks the identity's email address as confirmed.
func (a *Client) SetEmailConfirmed(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/admin/users/%s/confirm-email", a.BaseURL, id)

	req, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	res, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to confirm email, status code: %d", res.StatusCode)
	}

	return nil
}

// ResetPassword sets a new password for the identity with the given email.
func (a *Client) ResetPassword(ctx context.Context, email string, newPassword string) error {
	url := fmt.Sprintf("%s/admin/users/reset-password", a.BaseURL)

	payload, err := json.Marshal(resetPasswordRequestBody{Email: email, Password: newPassword})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to reset password, status code: %d", res.StatusCode)
	}

	return nil
}

// SignOut revokes all active sessions for the given user.
func (a *Client) SignOut(ctx context.Context, userID string) error {
	url := fmt.Sprintf("%s/admin/users/%s/sessions", a.BaseURL, userID)

	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	res, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to sign out user, status code: %d", res.StatusCode)
	}

	return nil
}

func identityFromResponse(res *identityResponseBody) *idp.Identity {
	return &idp.Identity{
		ID:    res.ID,
		Email: res.Email,
		Metadata: idp.Metadata{
			FullName:     res.Metadata.FullName,
			Role:         res.Metadata.Role,
			Organization: res.Metadata.Organization,
		},
	}
}
