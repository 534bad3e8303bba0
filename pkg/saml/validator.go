package saml

import (
	"context"
	"fmt"
)

// AssertionValidator validates raw SAML responses against configured
// providers. It implements Validator.
type AssertionValidator struct {
	registry *Registry
}

// NewAssertionValidator creates a validator over the registry
func NewAssertionValidator(registry *Registry) *AssertionValidator {
	return &AssertionValidator{registry: registry}
}

// Validate parses and verifies the base64-encoded SAML response and
// reduces it to the claims the sign-in pipeline needs: a subject
// identifier and the attributes selected by the provider's mapping.
func (v *AssertionValidator) Validate(ctx context.Context, providerID int64, rawAssertion, baseURL string) (*Validation, error) {
	config, err := v.registry.Provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	sp, err := v.registry.serviceProvider(config, baseURL)
	if err != nil {
		return nil, err
	}

	assertionInfo, err := sp.RetrieveAssertionInfo(rawAssertion)
	if err != nil {
		return nil, fmt.Errorf("failed to validate assertion: %w", err)
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("assertion has invalid time")
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("assertion not in expected audience")
		}
	}

	validation := &Validation{
		SubjectUID:  assertionInfo.NameID,
		MappedAttrs: make(map[string]string),
	}

	mapping := config.AttributeMapping
	for _, attr := range assertionInfo.Values {
		if len(attr.Values) == 0 {
			continue
		}
		value := attr.Values[0].Value

		if mapping.SubjectUID != "" && attr.Name == mapping.SubjectUID {
			validation.SubjectUID = value
		}
		if field, ok := mapping.Fields[attr.Name]; ok {
			validation.MappedAttrs[field] = value
		}
	}

	return validation, nil
}
