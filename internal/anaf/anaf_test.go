package anaf

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/ratelimit"
)

type mapStore struct {
	counts map[string]int64
}

func (m *mapStore) Incr(key string) (int64, error) {
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *mapStore) Expire(key string, ttl time.Duration) error { return nil }

func (m *mapStore) TTL(key string) (time.Duration, error) { return time.Minute, nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.NewLimiter(&mapStore{}, ratelimit.DefaultPolicies(), quietLogger())
	return NewClient(server.URL, 5*time.Second, limiter, quietLogger()), server
}

func TestUploadSuccess(t *testing.T) {
	var gotAuth, gotQuery string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`<header xmlns="mfp:anaf:dgti:spv:respUploadFisier:v1" ExecutionStatus="0" index_incarcare="5001"/>`))
	}))

	result, err := client.Upload(context.Background(), []byte("<Invoice/>"), "12345678", "tok")
	require.NoError(t, err)
	assert.Equal(t, "5001", result.UploadID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Contains(t, gotQuery, "standard=UBL")
	assert.Contains(t, gotQuery, "cif=12345678")
}

func TestUploadRejected(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<header ExecutionStatus="1"><Errors errorMessage="CIF invalid"/></header>`))
	}))

	_, err := client.Upload(context.Background(), []byte("<Invoice/>"), "12345678", "tok")
	var authErr *AuthorityError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "CIF invalid")
}

func TestUploadHTTPError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	_, err := client.Upload(context.Background(), []byte("<Invoice/>"), "12345678", "tok")
	var authErr *AuthorityError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestCheckStatusStates(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected Status
	}{
		{"confirmed", `<header stare="ok" id_descarcare="777"/>`, StatusOK},
		{"rejected", `<header stare="nok"><Errors errorMessage="validare esuata"/></header>`, StatusNOK},
		{"processing", `<header stare="in prelucrare"/>`, StatusPending},
		{"unknown", `<header stare="ceva nou"/>`, StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "5001", r.URL.Query().Get("id_incarcare"))
				w.Write([]byte(tc.body))
			}))

			result, err := client.CheckStatus(context.Background(), "5001", "tok")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result.State)
			if tc.expected == StatusOK {
				assert.Equal(t, "777", result.DownloadID)
			}
			if tc.expected == StatusNOK {
				assert.Contains(t, result.ErrorMessage, "validare")
			}
		})
	}
}

func TestListMessages(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("zile"))
		w.Write([]byte(`{"mesaje":[
			{"id":"111","tip":"FACTURA PRIMITA","cif":"12345678","detalii":"Factura cu id_incarcare=5001","id_solicitare":"5001","data_creare":"202603101200"},
			{"id":"112","tip":"ERORI FACTURA","cif":"12345678","detalii":"erori","id_solicitare":"5002","data_creare":"202603101300"}
		]}`))
	}))

	messages, err := client.ListMessages(context.Background(), "12345678", "tok", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "111", messages[0].ID)
	assert.Equal(t, "FACTURA PRIMITA", messages[0].Type)
	assert.Equal(t, "5001", messages[0].RequestID)
}

func TestListMessagesEmptyInboxIsNotAnError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"eroare":"Nu exista mesaje in ultimele 10 zile"}`))
	}))

	messages, err := client.ListMessages(context.Background(), "12345678", "tok", 10)
	assert.NoError(t, err)
	assert.Empty(t, messages)
}

func TestListMessagesBodyError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"eroare":"CIF-ul nu apartine utilizatorului"}`))
	}))

	_, err := client.ListMessages(context.Background(), "12345678", "tok", 10)
	var authErr *AuthorityError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "CIF")
}

func TestClientSurfacesRateLimit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(server.Close)

	policies := ratelimit.DefaultPolicies()
	policies.Global = ratelimit.Policy{Limit: 0, Window: time.Minute}
	limiter := ratelimit.NewLimiter(&mapStore{}, policies, quietLogger())
	client := NewClient(server.URL, time.Second, limiter, quietLogger())

	_, err := client.ListMessages(context.Background(), "12345678", "tok", 10)
	var rlErr *ratelimit.Error
	require.ErrorAs(t, err, &rlErr)
	assert.Zero(t, requests, "no request may reach the authority once the limiter rejects")
}

func TestDownloadErrorBody(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"eroare":"Id descarcare inexistent"}`))
	}))

	_, err := client.Download(context.Background(), "999", "tok")
	var authErr *AuthorityError
	require.ErrorAs(t, err, &authErr)
}

func TestDownloadAndUnpack(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"5001.xml":           "<Invoice><cbc:ID>FCT1</cbc:ID></Invoice>",
		"semnatura_5001.xml": "<Signature/>",
	})

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))

	data, err := client.Download(context.Background(), "777", "tok")
	require.NoError(t, err)

	doc, err := UnpackDownload(data)
	require.NoError(t, err)
	assert.Contains(t, string(doc.XML), "FCT1")
	assert.True(t, doc.HasSignature())
}

func TestUnpackDownloadWithoutSignature(t *testing.T) {
	archive := buildZip(t, map[string]string{"5001.xml": "<Invoice/>"})

	doc, err := UnpackDownload(archive)
	require.NoError(t, err)
	assert.False(t, doc.HasSignature())
}

func TestUnpackDownloadRejectsNonZip(t *testing.T) {
	_, err := UnpackDownload([]byte("not a zip"))
	assert.Error(t, err)
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeTokenStore struct {
	tokens  []*models.AnafToken
	updates int
}

func (f *fakeTokenStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.AnafToken, error) {
	return f.tokens, nil
}

func (f *fakeTokenStore) Update(ctx context.Context, token *models.AnafToken) error {
	f.updates++
	return nil
}

func futureTime(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func testCompanyForTokens() *models.Company {
	return &models.Company{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		CIF:            "12345678",
	}
}

func TestResolvePrefersValidatedToken(t *testing.T) {
	fresh := &models.AnafToken{ID: uuid.New(), AccessToken: "plain", ExpiresAt: futureTime(time.Hour)}
	validated := &models.AnafToken{ID: uuid.New(), AccessToken: "validated", ExpiresAt: futureTime(time.Hour)}
	validated.AddValidatedCIF(12345678)

	store := &fakeTokenStore{tokens: []*models.AnafToken{fresh, validated}}
	resolver := NewTokenResolver(store, "http://unused", "id", "secret", time.Second, quietLogger())

	token, err := resolver.Resolve(context.Background(), testCompanyForTokens())
	require.NoError(t, err)
	assert.Equal(t, "validated", token)
	assert.NotNil(t, validated.LastUsedAt)
}

func TestResolveNoTokens(t *testing.T) {
	resolver := NewTokenResolver(&fakeTokenStore{}, "http://unused", "id", "secret", time.Second, quietLogger())

	token, err := resolver.Resolve(context.Background(), testCompanyForTokens())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestResolveRefreshesExpiringToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		assert.Equal(t, "jwt", r.Form.Get("token_content_type"))
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200}`))
	}))
	t.Cleanup(server.Close)

	refresh := "old-refresh"
	token := &models.AnafToken{
		ID:           uuid.New(),
		AccessToken:  "stale",
		RefreshToken: &refresh,
		ExpiresAt:    futureTime(time.Minute), // inside the 5 minute margin
	}
	store := &fakeTokenStore{tokens: []*models.AnafToken{token}}
	resolver := NewTokenResolver(store, server.URL, "id", "secret", time.Second, quietLogger())

	resolved, err := resolver.Resolve(context.Background(), testCompanyForTokens())
	require.NoError(t, err)
	assert.Equal(t, "new-access", resolved)
	assert.Equal(t, "new-refresh", *token.RefreshToken)
	assert.True(t, token.ExpiresAt.After(time.Now().Add(time.Hour)))
}

func TestResolveSkipsUnrefreshableToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	t.Cleanup(server.Close)

	dead := &models.AnafToken{ID: uuid.New(), AccessToken: "dead"} // no expiry, no refresh token
	refresh := "rejected"
	alsoDead := &models.AnafToken{ID: uuid.New(), AccessToken: "rejected", RefreshToken: &refresh}
	live := &models.AnafToken{ID: uuid.New(), AccessToken: "live", ExpiresAt: futureTime(time.Hour)}

	store := &fakeTokenStore{tokens: []*models.AnafToken{dead, alsoDead, live}}
	resolver := NewTokenResolver(store, server.URL, "id", "secret", time.Second, quietLogger())

	resolved, err := resolver.Resolve(context.Background(), testCompanyForTokens())
	require.NoError(t, err)
	assert.Equal(t, "live", resolved)
}

func TestInvalidateCIF(t *testing.T) {
	token := &models.AnafToken{ID: uuid.New(), AccessToken: "tok", ExpiresAt: futureTime(time.Hour)}
	token.AddValidatedCIF(12345678)
	store := &fakeTokenStore{tokens: []*models.AnafToken{token}}
	resolver := NewTokenResolver(store, "http://unused", "id", "secret", time.Second, quietLogger())

	require.NoError(t, resolver.InvalidateCIF(context.Background(), testCompanyForTokens()))
	assert.False(t, token.HasValidatedCIF(12345678))
	assert.Equal(t, 1, store.updates)
}
