package database

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// APIKeyRepository handles database operations for API keys.
type APIKeyRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewAPIKeyRepository creates a new repository instance.
func NewAPIKeyRepository(db *DB, logger *logrus.Logger) *APIKeyRepository {
	return &APIKeyRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates an API key and returns the plaintext secret once.
func (r *APIKeyRepository) Create(orgID uuid.UUID, name string, rateLimit int) (*models.APIKey, string, error) {
	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("error generating API key: %w", err)
	}
	keyHash := HashAPIKey(apiKey)

	apiKeyModel := &models.APIKey{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		Name:            name,
		KeyHash:         keyHash,
		IsActive:        true,
		RateLimitPerMin: rateLimit,
		CreatedAt:       time.Now(),
	}

	query := `
		INSERT INTO api_keys (
			id, organization_id, name, key_hash, is_active, rate_limit_per_min, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecWithTimeout(query,
		apiKeyModel.ID, apiKeyModel.OrganizationID, apiKeyModel.Name,
		apiKeyModel.KeyHash, apiKeyModel.IsActive, apiKeyModel.RateLimitPerMin,
		apiKeyModel.CreatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("error creating API key: %w", err)
	}

	return apiKeyModel, apiKey, nil
}

// GetByHash returns the active API key matching a hash.
func (r *APIKeyRepository) GetByHash(hash string) (*models.APIKey, error) {
	query := `
		SELECT id, organization_id, name, key_hash, is_active, rate_limit_per_min, created_at, last_used_at
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var apiKey models.APIKey
	err := r.db.QueryRowWithTimeout(query, hash).Scan(
		&apiKey.ID, &apiKey.OrganizationID, &apiKey.Name, &apiKey.KeyHash,
		&apiKey.IsActive, &apiKey.RateLimitPerMin, &apiKey.CreatedAt, &apiKey.LastUsedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("API key not found or inactive")
		}
		return nil, fmt.Errorf("error querying API key: %w", err)
	}

	return &apiKey, nil
}

// UpdateLastUsed stamps the key's last use.
func (r *APIKeyRepository) UpdateLastUsed(id uuid.UUID) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`

	_, err := r.db.ExecWithTimeout(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating API key last used: %w", err)
	}
	return nil
}

// Deactivate disables an API key.
func (r *APIKeyRepository) Deactivate(id uuid.UUID) error {
	query := `UPDATE api_keys SET is_active = false WHERE id = $1`

	result, err := r.db.ExecWithTimeout(query, id)
	if err != nil {
		return fmt.Errorf("error deactivating API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("API key not found: %s", id)
	}
	return nil
}

// generateAPIKey produces a 32-character random key.
func generateAPIKey() (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf), nil
}

// HashAPIKey returns the SHA-256 hash of an API key.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("%x", hash)
}
