package anaf

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hypernova-labs/anaf-service/internal/models"
)

// Tokens within this margin of expiry are refreshed before use.
const expiryMargin = 5 * time.Minute

// TokenStore persists the organization's OAuth2 credentials.
type TokenStore interface {
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.AnafToken, error)
	Update(ctx context.Context, token *models.AnafToken) error
}

// TokenResolver selects a working bearer token for a tenant. An
// organization may register several certificate-bound tokens; the
// resolver prefers one already accepted for the tenant's CIF and
// refreshes credentials nearing expiry.
type TokenResolver struct {
	store        TokenStore
	http         *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *logrus.Logger

	now func() time.Time
}

// NewTokenResolver builds a resolver against the identity provider's
// token endpoint.
func NewTokenResolver(store TokenStore, tokenURL, clientID, clientSecret string, timeout time.Duration, logger *logrus.Logger) *TokenResolver {
	return &TokenResolver{
		store:        store,
		http:         &http.Client{Timeout: timeout},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
		now:          time.Now,
	}
}

// Resolve returns a usable access token for the company, or empty when no
// credential works. Tokens validated for the company's CIF are tried
// first; a token handed out is marked validated for that CIF.
func (r *TokenResolver) Resolve(ctx context.Context, company *models.Company) (string, error) {
	tokens, err := r.store.ListByOrganization(ctx, company.OrganizationID)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}

	cif, _ := strconv.ParseInt(models.NormalizeCIF(company.CIF), 10, 64)

	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].HasValidatedCIF(cif) && !tokens[j].HasValidatedCIF(cif)
	})

	for _, token := range tokens {
		if r.isExpired(token) {
			if !r.refresh(ctx, token) {
				continue
			}
		}

		now := r.now()
		token.LastUsedAt = &now
		token.AddValidatedCIF(cif)
		if err := r.store.Update(ctx, token); err != nil {
			r.logger.WithError(err).WithField("token_id", token.ID).Warn("Could not persist token usage")
		}

		return token.AccessToken, nil
	}

	return "", nil
}

// InvalidateCIF drops the company's CIF from every token's validated set.
// Called when the authority rejects a token for that CIF.
func (r *TokenResolver) InvalidateCIF(ctx context.Context, company *models.Company) error {
	tokens, err := r.store.ListByOrganization(ctx, company.OrganizationID)
	if err != nil {
		return err
	}

	cif, _ := strconv.ParseInt(models.NormalizeCIF(company.CIF), 10, 64)
	for _, token := range tokens {
		if !token.HasValidatedCIF(cif) {
			continue
		}
		token.RemoveValidatedCIF(cif)
		if err := r.store.Update(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

func (r *TokenResolver) isExpired(token *models.AnafToken) bool {
	if token.ExpiresAt == nil {
		return true
	}
	return token.ExpiresAt.Before(r.now().Add(expiryMargin))
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (r *TokenResolver) refresh(ctx context.Context, token *models.AnafToken) bool {
	log := r.logger.WithFields(logrus.Fields{"token_id": token.ID, "label": token.Label})

	if token.RefreshToken == nil || *token.RefreshToken == "" {
		log.Warn("Token has no refresh credential")
		return false
	}

	form := url.Values{
		"grant_type":         {"refresh_token"},
		"refresh_token":      {*token.RefreshToken},
		"client_id":          {r.clientID},
		"client_secret":      {r.clientSecret},
		"token_content_type": {"jwt"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		log.WithError(err).Error("Token refresh request failed")
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		log.WithField("status", resp.StatusCode).Error("Token refresh rejected")
		return false
	}

	token.AccessToken = parsed.AccessToken
	if parsed.RefreshToken != "" {
		token.RefreshToken = &parsed.RefreshToken
	}
	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	expiresAt := r.now().Add(time.Duration(expiresIn) * time.Second)
	token.ExpiresAt = &expiresAt

	if err := r.store.Update(ctx, token); err != nil {
		log.WithError(err).Error("Could not persist refreshed token")
		return false
	}

	log.Info("Token refreshed")
	return true
}
