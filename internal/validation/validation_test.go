package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernova-labs/anaf-service/internal/models"
)

func testCompany() *models.Company {
	return &models.Company{
		ID:       uuid.New(),
		CIF:      "12345678",
		Name:     "Demo SRL",
		Address:  "Str. Exemplu 1",
		City:     "Cluj-Napoca",
		County:   "CJ",
		Country:  "RO",
		VATRates: []string{"0.00", "9.00", "21.00"},
	}
}

func testDocument() *models.Document {
	doc := &models.Document{
		ID:        uuid.New(),
		Type:      models.DocumentTypeInvoice,
		Direction: models.DirectionOutgoing,
		Series:    "FCT",
		Number:    "0042",
		IssueDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Currency:  "RON",
		Supplier: &models.Party{
			CIF:     "12345678",
			Name:    "Demo SRL",
			Address: "Str. Exemplu 1",
			City:    "Cluj-Napoca",
			County:  "CJ",
			Country: "RO",
		},
		Customer: &models.Party{
			CIF:     "987654",
			Name:    "Client SA",
			Address: "Bd. Unirii 10",
			City:    "Bucuresti",
			County:  "B",
			Country: "RO",
		},
		Lines: []models.Line{
			{
				LineNo:      1,
				Description: "Servicii consultanta",
				Quantity:    decimal.NewFromInt(10),
				Unit:        "ora",
				UnitPrice:   decimal.NewFromInt(125),
				VATRate:     decimal.NewFromInt(21),
				VATCategory: "S",
			},
		},
	}
	for i := range doc.Lines {
		doc.Lines[i].ComputeTotals()
	}
	doc.Subtotal = doc.Lines[0].LineTotal
	doc.VATTotal = doc.Lines[0].VATAmount
	doc.Total = doc.Subtotal.Add(doc.VATTotal)
	return doc
}

func testPipeline() *Pipeline {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewPipeline(nil, nil, logger)
}

func ruleIDs(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.RuleID)
	}
	return out
}

func TestEntityRulesValidInvoice(t *testing.T) {
	errs := validateDocumentEntity(testDocument(), testCompany(), nil)
	assert.Empty(t, errs)
}

func TestEntityRulesCompanyCompleteness(t *testing.T) {
	company := testCompany()
	company.Address = ""
	company.City = ""

	errs := validateDocumentEntity(testDocument(), company, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Message, "address")
	assert.Contains(t, errs[1].Message, "city")
}

func TestEntityRulesCustomerCompanyNeedsCIF(t *testing.T) {
	doc := testDocument()
	doc.Customer.CIF = ""

	errs := validateDocumentEntity(doc, testCompany(), nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "tax identifier")
}

func TestEntityRulesIndividualCustomerWithoutCIF(t *testing.T) {
	doc := testDocument()
	// A 13-digit personal code marks an individual; no company CUI needed.
	doc.Customer.CIF = "1960101123456"

	errs := validateDocumentEntity(doc, testCompany(), nil)
	assert.Empty(t, errs)
}

func TestEntityRulesNumberAndDateRequired(t *testing.T) {
	doc := testDocument()
	doc.Number = ""
	doc.IssueDate = time.Time{}

	errs := validateDocumentEntity(doc, testCompany(), nil)
	require.Len(t, errs, 2)
}

func TestEntityRulesEmptyLines(t *testing.T) {
	doc := testDocument()
	doc.Lines = nil
	doc.Total = decimal.NewFromInt(1)

	errs := validateDocumentEntity(doc, testCompany(), nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "no lines")
}

func TestEntityRulesNormalDocumentSigns(t *testing.T) {
	doc := testDocument()
	doc.Lines[0].Quantity = decimal.NewFromInt(-2)
	doc.Lines[0].UnitPrice = decimal.Zero
	doc.Lines[0].ComputeTotals()
	doc.Total = decimal.Zero

	errs := validateDocumentEntity(doc, testCompany(), nil)
	ids := make(map[string]int)
	for _, e := range errs {
		ids[e.RuleID]++
	}
	assert.Equal(t, 3, ids["business"], "unit price, quantity and total should all fail")
}

func TestEntityRulesRefundSigns(t *testing.T) {
	parent := uuid.New()
	doc := testDocument()
	doc.Type = models.DocumentTypeCreditNote
	doc.ParentDocumentID = &parent
	doc.Lines[0].Quantity = decimal.NewFromInt(-10)
	doc.Lines[0].ComputeTotals()
	doc.Total = doc.Lines[0].LineTotal.Add(doc.Lines[0].VATAmount)

	errs := validateDocumentEntity(doc, testCompany(), nil)
	assert.Empty(t, errs, "negative refund amounts are allowed")

	doc.Lines[0].Quantity = decimal.Zero
	doc.Total = decimal.Zero
	errs = validateDocumentEntity(doc, testCompany(), nil)
	require.Len(t, errs, 2, "zero quantity and zero total must fail on refunds")
}

func TestEntityRulesVATRateMembership(t *testing.T) {
	doc := testDocument()
	doc.Lines[0].VATRate = decimal.NewFromInt(19)

	errs := validateDocumentEntity(doc, testCompany(), nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "invalid VAT rate")
	assert.Contains(t, errs[0].Message, "19.00")
}

func TestEntityRulesFallbackRates(t *testing.T) {
	company := testCompany()
	company.VATRates = nil

	doc := testDocument()
	doc.Lines[0].VATRate = decimal.NewFromInt(5)
	errs := validateDocumentEntity(doc, company, nil)
	assert.Empty(t, errs, "5 is in the fallback rate set")
}

type staticRates map[string][]string

func (s staticRates) RatesForCountry(country string) []string { return s[country] }

func TestEntityRulesOSSDestinationRates(t *testing.T) {
	doc := testDocument()
	doc.Customer.Country = "DE"
	doc.Lines[0].VATRate = decimal.NewFromInt(19)

	errs := validateDocumentEntity(doc, testCompany(), nil)
	require.Len(t, errs, 1, "19 is not valid without destination rates")

	rates := staticRates{"DE": {"7.00", "19.00"}}
	errs = validateDocumentEntity(doc, testCompany(), rates)
	assert.Empty(t, errs, "destination country rates extend the valid set")
}

func TestTransportEntityRulesValid(t *testing.T) {
	note := validTransportNote()
	errs := validateTransportEntity("12345678", note)
	assert.Empty(t, errs)
}

func TestTransportEntityRules(t *testing.T) {
	uit := "0000000000000199"
	note := validTransportNote()
	note.UIT = &uit
	note.VehicleNumber = "b-12!-xyz"
	note.Trailer1 = "X"
	note.RouteEnd.Locality = ""
	note.Lines[0].Quantity = decimal.Zero
	note.Lines[0].GrossWeight = decimal.NewFromInt(100)
	note.Lines[0].NetWeight = decimal.NewFromInt(200)

	errs := validateTransportEntity("not-a-cif", note)
	ids := ruleIDs(errs)
	assert.Contains(t, ids, "BR-002")
	assert.Contains(t, ids, "BR-019")
	assert.Contains(t, ids, "BR-031")
	assert.Contains(t, ids, "BR-032")
	assert.Contains(t, ids, "BR-211")
	assert.Contains(t, ids, "BR-027")
	assert.Contains(t, ids, "BR-020")
}

func TestTransportEntityRulesGrossWeightRequired(t *testing.T) {
	note := validTransportNote()
	note.Lines[0].GrossWeight = decimal.Zero

	errs := validateTransportEntity("12345678", note)
	require.Len(t, errs, 1)
	assert.Equal(t, "BR-218", errs[0].RuleID)
}

func validTransportNote() *models.TransportNote {
	return &models.TransportNote{
		ID:            uuid.New(),
		OperationType: 30,
		VehicleNumber: "CJ01ABC",
		Lines: []models.TransportLine{
			{
				Description: "Cherestea",
				TariffCode:  "44071190",
				Quantity:    decimal.NewFromInt(20),
				UnitCode:    "H87",
				NetWeight:   decimal.NewFromInt(1100),
				GrossWeight: decimal.NewFromInt(1200),
			},
		},
		RouteStart: models.TransportLocation{County: "CJ", Locality: "Cluj-Napoca", Street: "Str. Fabricii"},
		RouteEnd:   models.TransportLocation{County: "B", Locality: "Bucuresti", Street: "Bd. Timisoara"},
	}
}

func TestPipelineShortCircuitsBeforeGeneration(t *testing.T) {
	p := testPipeline()
	generated := 0
	p.generate = func(doc *models.Document) ([]byte, error) {
		generated++
		return nil, errors.New("should not be called")
	}

	doc := testDocument()
	doc.Number = ""

	result := p.ValidateQuick(doc, testCompany())
	assert.False(t, result.Valid)
	assert.Zero(t, generated, "entity failures must stop the run before XML generation")
}

func TestPipelineQuickValid(t *testing.T) {
	p := testPipeline()
	result := p.ValidateQuick(testDocument(), testCompany())
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.False(t, result.SchematronSkipped)
}

func TestPipelineStructurePhaseFailure(t *testing.T) {
	p := testPipeline()
	p.generate = func(doc *models.Document) ([]byte, error) {
		return []byte("<Invoice><unclosed></Invoice>"), nil
	}

	result := p.ValidateQuick(testDocument(), testCompany())
	require.False(t, result.Valid)
	assert.Equal(t, "xsd", result.Errors[0].RuleID)
}

type fakeSchematron struct {
	healthy    bool
	violations []Violation
	err        error
	calls      int
}

func (f *fakeSchematron) Healthy(ctx context.Context) bool { return f.healthy }

func (f *fakeSchematron) Evaluate(ctx context.Context, xmlPayload []byte, ruleSet string) ([]Violation, error) {
	f.calls++
	return f.violations, f.err
}

func TestPipelineSchematronSkippedWhenUnavailable(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	eval := &fakeSchematron{healthy: false}
	p := NewPipeline(eval, nil, logger)

	result, xmlBytes := p.Validate(context.Background(), testDocument(), testCompany())
	assert.True(t, result.Valid)
	assert.True(t, result.SchematronSkipped)
	assert.NotEmpty(t, xmlBytes)
	assert.Zero(t, eval.calls)
}

func TestPipelineSchematronViolations(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	eval := &fakeSchematron{
		healthy: true,
		violations: []Violation{
			fatal("BR-RO-L020", "judetul nu corespunde codului de tara"),
			warning("BR-CL-25", "unit code outside the recommended list"),
		},
	}
	p := NewPipeline(eval, nil, logger)

	result, _ := p.Validate(context.Background(), testDocument(), testCompany())
	assert.False(t, result.Valid)
	assert.False(t, result.SchematronSkipped)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "BR-RO-L020", result.Errors[0].RuleID)
	require.Len(t, result.Warnings, 1)
}

func TestPipelineSchematronErrorDegrades(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	eval := &fakeSchematron{healthy: true, err: errors.New("boom")}
	p := NewPipeline(eval, nil, logger)

	result, _ := p.Validate(context.Background(), testDocument(), testCompany())
	assert.True(t, result.Valid)
	assert.True(t, result.SchematronSkipped)
}

func TestParseSVRL(t *testing.T) {
	report := []byte(`<?xml version="1.0"?>
<svrl:schematron-output xmlns:svrl="http://purl.oclc.org/dsdl/svrl">
  <svrl:fired-rule context="/Invoice"/>
  <svrl:failed-assert id="BR-RO-010" test="false()">
    <svrl:text>
      Adresa furnizorului este obligatorie.
    </svrl:text>
  </svrl:failed-assert>
  <svrl:failed-assert id="BR-CL-25" flag="warning" test="false()">
    <svrl:text>Cod unitate in afara listei recomandate.</svrl:text>
  </svrl:failed-assert>
</svrl:schematron-output>`)

	violations, err := parseSVRL(report)
	require.NoError(t, err)
	require.Len(t, violations, 2)
	assert.Equal(t, "BR-RO-010", violations[0].RuleID)
	assert.Equal(t, SeverityFatal, violations[0].Severity)
	assert.Equal(t, "Adresa furnizorului este obligatorie.", violations[0].Message)
	assert.Equal(t, SeverityWarning, violations[1].Severity)
}

func TestRuleSetSelection(t *testing.T) {
	assert.Equal(t, RuleSetInvoice, ruleSetFor(false))
	assert.Equal(t, RuleSetCreditNote, ruleSetFor(true))
}
