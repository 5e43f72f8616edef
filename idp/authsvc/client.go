// Package authsvc implements the IdentityProvider contract against the
// hosted authentication service's management REST API.
package authsvc

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"
)

type Client struct {
	BaseURL     string
	OAuthConfig *clientcredentials.Config
	Client      *http.Client
}

func NewClient(baseURL string, clientID string, clientSecret string, scopes []string) *Client {
	oauthConfig := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/oauth2/token",
		Scopes:       scopes,
	}

	return &Client{
		BaseURL:     baseURL,
		OAuthConfig: oauthConfig,
		Client:      oauthConfig.Client(context.Background()),
	}
}
