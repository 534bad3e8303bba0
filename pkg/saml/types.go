package saml

import (
	"context"
	"errors"
	"time"
)

// ErrProviderNotFound indicates the provider id references no
// configured provider
var ErrProviderNotFound = errors.New("provider not found")

// ProviderConfig is the stored configuration of a trusted IdP
type ProviderConfig struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Enabled          bool         `json:"enabled"`
	Config           SAMLConfig   `json:"config"`
	AttributeMapping AttributeMap `json:"attribute_mapping"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// SAMLConfig holds the SAML 2.0 trust parameters for one IdP
type SAMLConfig struct {
	EntityID     string `json:"entity_id"`
	SSOURL       string `json:"sso_url"`
	Certificate  string `json:"certificate"` // PEM encoded certificate
	PrivateKey   string `json:"-"`           // never expose the private key
	SignRequests bool   `json:"sign_requests"`
	NameIDFormat string `json:"name_id_format,omitempty"`
}

// AttributeMap selects which assertion attributes flow into the
// local user record. Fields maps assertion attribute names to user
// fields; only fields on the identity package's writable allow-list
// are ever applied.
type AttributeMap struct {
	// SubjectUID names the attribute carrying the stable subject
	// identifier. Empty means the assertion NameID is used.
	SubjectUID string `json:"subject_uid,omitempty"`

	Fields map[string]string `json:"fields,omitempty"`
}

// Validation is the claims set produced by a successful assertion
// validation.
type Validation struct {
	SubjectUID  string            `json:"subject_uid"`
	MappedAttrs map[string]string `json:"mapped_attrs,omitempty"`
}

// Validator validates a raw assertion blob against a configured
// provider. The orchestrator depends only on this interface.
type Validator interface {
	Validate(ctx context.Context, providerID int64, rawAssertion, baseURL string) (*Validation, error)
}
