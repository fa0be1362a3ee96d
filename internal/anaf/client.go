package anaf

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hypernova-labs/anaf-service/internal/ratelimit"
)

// Processing states reported by the authority for an upload.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusNOK     Status = "nok"
)

// AuthorityError is any upstream failure normalized into one shape,
// whether it arrived as an HTTP status or as an error field in the body.
type AuthorityError struct {
	Op         string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *AuthorityError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("authority %s failed with HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authority %s failed: %s", e.Op, e.Message)
}

// UploadResult is the acknowledgement of an accepted upload.
type UploadResult struct {
	UploadID string `json:"upload_id"`
}

// StatusResult is one answer to a status poll.
type StatusResult struct {
	State        Status `json:"state"`
	DownloadID   string `json:"download_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RawMessage is one entry of the authority's message inbox listing.
type RawMessage struct {
	ID        string `json:"id"`
	Type      string `json:"tip"`
	CIF       string `json:"cif"`
	Detail    string `json:"detalii"`
	RequestID string `json:"id_solicitare"`
	CreatedAt string `json:"data_creare"`
}

// Client is a stateless wrapper over the authority's REST endpoints.
// Tokens are passed per call; credential refresh lives in TokenResolver.
// Every call charges the rate limiter before any network traffic.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *logrus.Logger
}

// NewClient builds an authority client for the given environment base URL.
func NewClient(baseURL string, timeout time.Duration, limiter *ratelimit.Limiter, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// uploadHeader is the XML envelope of the upload endpoint.
type uploadHeader struct {
	ExecutionStatus int    `xml:"ExecutionStatus,attr"`
	UploadID        string `xml:"index_incarcare,attr"`
	Errors          []struct {
		Message string `xml:"errorMessage,attr"`
	} `xml:"Errors"`
}

// statusHeader is the XML envelope of the status endpoint.
type statusHeader struct {
	State      string `xml:"stare,attr"`
	DownloadID string `xml:"id_descarcare,attr"`
	Errors     []struct {
		Message string `xml:"errorMessage,attr"`
	} `xml:"Errors"`
}

// listEnvelope is the JSON body of the inbox listing endpoint.
type listEnvelope struct {
	Messages []RawMessage `json:"mesaje"`
	Error    string       `json:"eroare"`
	Title    string       `json:"titlu"`
}

// Upload submits a UBL payload for the given tenant and returns the
// correlation id used to poll its verdict.
func (c *Client) Upload(ctx context.Context, xmlPayload []byte, cif, token string) (*UploadResult, error) {
	if err := c.limiter.ConsumeUpload(); err != nil {
		return nil, err
	}

	query := url.Values{"standard": {"UBL"}, "cif": {cif}}
	body, status, err := c.do(ctx, http.MethodPost, "/upload", query, token, xmlPayload)
	if err != nil {
		return nil, err
	}

	var header uploadHeader
	if err := xml.Unmarshal(body, &header); err != nil {
		return nil, &AuthorityError{Op: "upload", StatusCode: status, Message: "unparseable response body"}
	}

	if header.ExecutionStatus != 0 || header.UploadID == "" {
		return nil, &AuthorityError{Op: "upload", StatusCode: status, Message: joinErrors(uploadErrors(header))}
	}

	c.logger.WithFields(logrus.Fields{"cif": cif, "upload_id": header.UploadID}).Info("Document uploaded to authority")
	return &UploadResult{UploadID: header.UploadID}, nil
}

// CheckStatus polls the verdict of a previous upload.
func (c *Client) CheckStatus(ctx context.Context, uploadID, token string) (*StatusResult, error) {
	if err := c.limiter.ConsumePoll(uploadID); err != nil {
		return nil, err
	}

	query := url.Values{"id_incarcare": {uploadID}}
	body, status, err := c.do(ctx, http.MethodGet, "/stareMesaj", query, token, nil)
	if err != nil {
		return nil, err
	}

	var header statusHeader
	if err := xml.Unmarshal(body, &header); err != nil {
		return nil, &AuthorityError{Op: "check status", StatusCode: status, Message: "unparseable response body"}
	}

	result := &StatusResult{DownloadID: header.DownloadID}
	switch strings.ToLower(strings.TrimSpace(header.State)) {
	case "ok":
		result.State = StatusOK
	case "nok":
		result.State = StatusNOK
		result.ErrorMessage = joinErrors(statusErrors(header))
	default:
		// "in prelucrare" and anything unexpected keep the poll alive.
		result.State = StatusPending
	}

	return result, nil
}

// ListMessages returns the tenant's inbox entries for the lookback window.
// The authority reports an empty inbox through a localized error string;
// that case is a valid empty listing, not a failure.
func (c *Client) ListMessages(ctx context.Context, cif, token string, days int) ([]RawMessage, error) {
	if err := c.limiter.ConsumeList(cif); err != nil {
		return nil, err
	}

	query := url.Values{"zile": {fmt.Sprintf("%d", days)}, "cif": {cif}}
	body, status, err := c.do(ctx, http.MethodGet, "/listaMesajeFactura", query, token, nil)
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &AuthorityError{Op: "list messages", StatusCode: status, Message: "unparseable response body"}
	}

	if envelope.Error != "" {
		if isEmptyInbox(envelope.Error) {
			return nil, nil
		}
		return nil, &AuthorityError{Op: "list messages", StatusCode: status, Message: envelope.Error}
	}

	return envelope.Messages, nil
}

// Download fetches a message archive, a zip with the XML payload and an
// optional detached signature.
func (c *Client) Download(ctx context.Context, id, token string) ([]byte, error) {
	if err := c.limiter.ConsumeDownload(id); err != nil {
		return nil, err
	}

	query := url.Values{"id": {id}}
	body, status, err := c.do(ctx, http.MethodGet, "/descarcare", query, token, nil)
	if err != nil {
		return nil, err
	}

	// Error replies come back as JSON instead of a zip.
	if len(body) > 0 && body[0] == '{' {
		var envelope listEnvelope
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			return nil, &AuthorityError{Op: "download", StatusCode: status, Message: envelope.Error}
		}
	}

	return body, nil
}

// ValidateToken checks that a token can access the tenant's inbox. An
// empty inbox still proves access.
func (c *Client) ValidateToken(ctx context.Context, cif, token string) error {
	_, err := c.ListMessages(ctx, cif, token, 1)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body []byte) ([]byte, int, error) {
	endpoint := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &AuthorityError{Op: method + " " + path, Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &AuthorityError{Op: method + " " + path, StatusCode: resp.StatusCode, Message: "reading response body"}
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, &AuthorityError{
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(payload), 200),
		}
	}

	return payload, resp.StatusCode, nil
}

// isEmptyInbox matches the authority's "no messages exist" wording, which
// varies but always contains both fragments.
func isEmptyInbox(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "nu exista") && strings.Contains(lower, "mesaj")
}

func uploadErrors(h uploadHeader) []string {
	out := make([]string, 0, len(h.Errors))
	for _, e := range h.Errors {
		out = append(out, e.Message)
	}
	return out
}

func statusErrors(h statusHeader) []string {
	out := make([]string, 0, len(h.Errors))
	for _, e := range h.Errors {
		out = append(out, e.Message)
	}
	return out
}

func joinErrors(messages []string) string {
	if len(messages) == 0 {
		return "unknown authority error"
	}
	return strings.Join(messages, "; ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
