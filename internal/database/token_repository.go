package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// TokenRepository handles database operations for OAuth2 credentials.
// It satisfies the token store contract of the authority token resolver.
type TokenRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewTokenRepository creates a new repository instance.
func NewTokenRepository(db *DB, logger *logrus.Logger) *TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

const tokenColumns = `
	id, organization_id, label, access_token, refresh_token, expires_at,
	last_used_at, validated_cifs, created_at, updated_at
`

// ListByOrganization returns all tokens registered for an organization.
func (r *TokenRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.AnafToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM anaf_tokens WHERE organization_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("error querying tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.AnafToken
	for rows.Next() {
		var token models.AnafToken
		err := rows.Scan(
			&token.ID, &token.OrganizationID, &token.Label, &token.AccessToken,
			&token.RefreshToken, &token.ExpiresAt, &token.LastUsedAt,
			pq.Array(&token.ValidatedCIFs), &token.CreatedAt, &token.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning token: %w", err)
		}
		tokens = append(tokens, &token)
	}

	return tokens, nil
}

// Update stores the token's credentials and validated CIF set.
func (r *TokenRepository) Update(ctx context.Context, token *models.AnafToken) error {
	query := `
		UPDATE anaf_tokens
		SET access_token = $1, refresh_token = $2, expires_at = $3,
			last_used_at = $4, validated_cifs = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		token.AccessToken, token.RefreshToken, token.ExpiresAt,
		token.LastUsedAt, pq.Array(token.ValidatedCIFs), time.Now(), token.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("token not found: %s", token.ID)
	}
	return nil
}

// Create inserts a new credential pair.
func (r *TokenRepository) Create(ctx context.Context, token *models.AnafToken) error {
	query := `
		INSERT INTO anaf_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.OrganizationID, token.Label, token.AccessToken,
		token.RefreshToken, token.ExpiresAt, token.LastUsedAt,
		pq.Array(token.ValidatedCIFs), token.CreatedAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting token: %w", err)
	}
	return nil
}
