package saml

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/idbridge/idbridge/pkg/observability"
)

const spCacheSize = 32

// spEntry caches a built service provider together with the config
// revision and base URL it was built for.
type spEntry struct {
	sp        *saml2.SAMLServiceProvider
	updatedAt time.Time
	baseURL   string
}

// Registry resolves provider ids to configurations and built SAML
// service providers.
type Registry struct {
	storage *Storage
	cache   *lru.Cache[int64, *spEntry]
	logger  *observability.Logger
}

// NewRegistry creates a provider registry
func NewRegistry(storage *Storage, logger *observability.Logger) (*Registry, error) {
	cache, err := lru.New[int64, *spEntry](spCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider cache: %w", err)
	}
	return &Registry{storage: storage, cache: cache, logger: logger}, nil
}

// Provider returns the enabled provider configuration for id
func (r *Registry) Provider(ctx context.Context, id int64) (*ProviderConfig, error) {
	config, err := r.storage.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, fmt.Errorf("provider %q is disabled: %w", config.Name, ErrProviderNotFound)
	}
	return config, nil
}

// serviceProvider returns a built gosaml2 service provider for the
// config, reusing the cached instance while the stored configuration
// and base URL are unchanged.
func (r *Registry) serviceProvider(config *ProviderConfig, baseURL string) (*saml2.SAMLServiceProvider, error) {
	if entry, ok := r.cache.Get(config.ID); ok {
		if entry.updatedAt.Equal(config.UpdatedAt) && entry.baseURL == baseURL {
			return entry.sp, nil
		}
	}

	sp, err := buildServiceProvider(config, baseURL)
	if err != nil {
		return nil, err
	}
	r.cache.Add(config.ID, &spEntry{sp: sp, updatedAt: config.UpdatedAt, baseURL: baseURL})
	return sp, nil
}

// buildServiceProvider constructs the gosaml2 service provider from a
// stored configuration.
func buildServiceProvider(config *ProviderConfig, baseURL string) (*saml2.SAMLServiceProvider, error) {
	cfg := config.Config

	certBlock, _ := pem.Decode([]byte(cfg.Certificate))
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	var keyStore dsig.X509KeyStore
	if cfg.PrivateKey != "" {
		keyBlock, _ := pem.Decode([]byte(cfg.PrivateKey))
		if keyBlock == nil {
			return nil, fmt.Errorf("failed to decode private key PEM")
		}

		privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			// Try PKCS8 format
			pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			var ok bool
			privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("private key is not RSA")
			}
		}

		keyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{[]byte(cfg.Certificate)},
		}
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.SSOURL,
		IdentityProviderIssuer:      cfg.EntityID,
		ServiceProviderIssuer:       baseURL + "/saml/metadata",
		AssertionConsumerServiceURL: fmt.Sprintf("%s/auth/saml/%s/acs", baseURL, config.Name),
		SignAuthnRequests:           cfg.SignRequests,
		AudienceURI:                 baseURL,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}
	if cfg.NameIDFormat != "" {
		sp.NameIdFormat = cfg.NameIDFormat
	}
	return sp, nil
}

// BuildLoginURL returns the IdP redirect URL initiating a login
func (r *Registry) BuildLoginURL(ctx context.Context, providerID int64, baseURL, relayState string) (string, error) {
	config, err := r.Provider(ctx, providerID)
	if err != nil {
		return "", err
	}
	sp, err := r.serviceProvider(config, baseURL)
	if err != nil {
		return "", err
	}

	authURL, err := sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

// Metadata returns the service provider metadata document
func (r *Registry) Metadata(ctx context.Context, providerID int64, baseURL string) ([]byte, error) {
	config, err := r.Provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	sp, err := r.serviceProvider(config, baseURL)
	if err != nil {
		return nil, err
	}

	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		sp.ServiceProviderIssuer,
		sp.AssertionConsumerServiceURL)

	return []byte(metadataXML), nil
}

// ValidateConfig checks a provider configuration for completeness
func ValidateConfig(config *ProviderConfig) error {
	cfg := config.Config

	if config.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if cfg.SSOURL == "" {
		return fmt.Errorf("sso_url is required")
	}
	if cfg.Certificate == "" {
		return fmt.Errorf("certificate is required")
	}

	block, _ := pem.Decode([]byte(cfg.Certificate))
	if block == nil {
		return fmt.Errorf("invalid certificate PEM format")
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}

	if cfg.PrivateKey != "" {
		keyBlock, _ := pem.Decode([]byte(cfg.PrivateKey))
		if keyBlock == nil {
			return fmt.Errorf("invalid private key PEM format")
		}
	}
	return nil
}
