package saml

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Storage persists provider configuration. The management surface is
// deliberately minimal; configuration ownership lives outside this
// service.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a provider config store
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// CreateProvider inserts a provider configuration
func (s *Storage) CreateProvider(ctx context.Context, config *ProviderConfig) error {
	configJSON, err := json.Marshal(config.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal SAML config: %w", err)
	}
	attrMappingJSON, err := json.Marshal(config.AttributeMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal attribute mapping: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO saml_providers (name, enabled, config, attribute_mapping, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, config.Name, config.Enabled, configJSON, attrMappingJSON, now, now).Scan(&config.ID)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	config.CreatedAt = now
	config.UpdatedAt = now
	return nil
}

// GetProvider retrieves a provider by id
func (s *Storage) GetProvider(ctx context.Context, id int64) (*ProviderConfig, error) {
	return s.scanProvider(s.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, config, attribute_mapping, created_at, updated_at
		FROM saml_providers
		WHERE id = $1
	`, id))
}

// GetProviderByName retrieves a provider by its unique name
func (s *Storage) GetProviderByName(ctx context.Context, name string) (*ProviderConfig, error) {
	return s.scanProvider(s.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, config, attribute_mapping, created_at, updated_at
		FROM saml_providers
		WHERE name = $1
	`, name))
}

func (s *Storage) scanProvider(row *sql.Row) (*ProviderConfig, error) {
	var (
		config          = &ProviderConfig{}
		configJSON      []byte
		attrMappingJSON []byte
	)
	err := row.Scan(&config.ID, &config.Name, &config.Enabled,
		&configJSON, &attrMappingJSON, &config.CreatedAt, &config.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider: %w", err)
	}

	if err := json.Unmarshal(configJSON, &config.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal SAML config: %w", err)
	}
	if err := json.Unmarshal(attrMappingJSON, &config.AttributeMapping); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attribute mapping: %w", err)
	}
	return config, nil
}

// ListProviders lists provider configurations
func (s *Storage) ListProviders(ctx context.Context, enabledOnly bool) ([]*ProviderConfig, error) {
	query := `
		SELECT id, name, enabled, config, attribute_mapping, created_at, updated_at
		FROM saml_providers
	`
	if enabledOnly {
		query += " WHERE enabled = TRUE"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*ProviderConfig
	for rows.Next() {
		var (
			config          = &ProviderConfig{}
			configJSON      []byte
			attrMappingJSON []byte
		)
		err := rows.Scan(&config.ID, &config.Name, &config.Enabled,
			&configJSON, &attrMappingJSON, &config.CreatedAt, &config.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(configJSON, &config.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal SAML config: %w", err)
		}
		if err := json.Unmarshal(attrMappingJSON, &config.AttributeMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attribute mapping: %w", err)
		}
		providers = append(providers, config)
	}
	return providers, rows.Err()
}

// UpdateProvider updates a provider configuration in place
func (s *Storage) UpdateProvider(ctx context.Context, config *ProviderConfig) error {
	configJSON, err := json.Marshal(config.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal SAML config: %w", err)
	}
	attrMappingJSON, err := json.Marshal(config.AttributeMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal attribute mapping: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE saml_providers
		SET enabled = $1, config = $2, attribute_mapping = $3, updated_at = $4
		WHERE id = $5
	`, config.Enabled, configJSON, attrMappingJSON, now, config.ID)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProviderNotFound
	}
	config.UpdatedAt = now
	return nil
}

// DeleteProvider removes a provider configuration
func (s *Storage) DeleteProvider(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saml_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	return nil
}
