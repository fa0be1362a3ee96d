package validation

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Schematron rule sets exposed by the validator sidecar.
const (
	RuleSetInvoice    = "FACT1"
	RuleSetCreditNote = "FCN"
)

// SchematronEvaluator runs the authority's business-rule schematron over a
// generated document. Implementations may be unavailable; callers check
// Healthy and degrade to a skipped phase.
type SchematronEvaluator interface {
	Healthy(ctx context.Context) bool
	Evaluate(ctx context.Context, xmlPayload []byte, ruleSet string) ([]Violation, error)
}

// SchematronClient talks to the external validator sidecar over HTTP and
// parses its SVRL report into violations.
type SchematronClient struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// NewSchematronClient builds a sidecar client with the given base URL.
func NewSchematronClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *SchematronClient {
	return &SchematronClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Healthy probes the sidecar health endpoint.
func (c *SchematronClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).Debug("Schematron sidecar unreachable")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Evaluate posts the document to the sidecar and returns one violation per
// failed assertion in the SVRL report.
func (c *SchematronClient) Evaluate(ctx context.Context, xmlPayload []byte, ruleSet string) ([]Violation, error) {
	url := fmt.Sprintf("%s/validate?type=%s", c.baseURL, ruleSet)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(xmlPayload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schematron request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading schematron response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schematron sidecar returned status %d", resp.StatusCode)
	}

	return parseSVRL(body)
}

type svrlReport struct {
	FailedAsserts []svrlFailedAssert `xml:"failed-assert"`
}

type svrlFailedAssert struct {
	ID   string `xml:"id,attr"`
	Flag string `xml:"flag,attr"`
	Text string `xml:"text"`
}

// parseSVRL extracts failed assertions from an SVRL validation report.
// Assertions flagged as warnings keep their severity; everything else is
// fatal.
func parseSVRL(report []byte) ([]Violation, error) {
	var parsed svrlReport
	if err := xml.Unmarshal(report, &parsed); err != nil {
		return nil, fmt.Errorf("parsing SVRL report: %w", err)
	}

	var out []Violation
	for _, fa := range parsed.FailedAsserts {
		ruleID := fa.ID
		if ruleID == "" {
			ruleID = "schematron"
		}
		msg := strings.Join(strings.Fields(fa.Text), " ")
		if strings.EqualFold(fa.Flag, "warning") {
			out = append(out, warning(ruleID, msg))
		} else {
			out = append(out, fatal(ruleID, msg))
		}
	}
	return out, nil
}

// ruleSetFor maps a document type onto the sidecar rule set name.
func ruleSetFor(isCreditNote bool) string {
	if isCreditNote {
		return RuleSetCreditNote
	}
	return RuleSetInvoice
}
