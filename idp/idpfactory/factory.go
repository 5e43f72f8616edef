package idpfactory

import (
	"errors"

	"github.com/admitpath/portal-backend/idp"
	"github.com/admitpath/portal-backend/idp/authsvc"
)

// ProviderType identifies a supported identity provider backend.
type ProviderType string

const ProviderAuthSvc ProviderType = "authsvc"

type FactoryConfig struct {
	ProviderType ProviderType
	BaseURL      string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func NewIdentityProvider(cfg FactoryConfig) (idp.IdentityProvider, error) {
	switch cfg.ProviderType {
	case ProviderAuthSvc:
		return authsvc.NewClient(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes), nil
	default:
		return nil, errors.New("unsupported provider type")
	}
}
