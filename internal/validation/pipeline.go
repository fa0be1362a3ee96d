package validation

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hypernova-labs/anaf-service/internal/codec"
	"github.com/hypernova-labs/anaf-service/internal/models"
)

// Pipeline runs the layered document checks: entity rules first, then the
// generated XML structure, then the authority's schematron rule set. A
// phase with fatal findings stops the run; later phases never see a
// document an earlier phase rejected.
type Pipeline struct {
	schematron SchematronEvaluator
	rates      RateProvider
	logger     *logrus.Logger

	generate func(*models.Document) ([]byte, error)
}

// NewPipeline builds a validation pipeline. schematron and rates may be
// nil; the corresponding checks are skipped.
func NewPipeline(schematron SchematronEvaluator, rates RateProvider, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		schematron: schematron,
		rates:      rates,
		logger:     logger,
		generate:   codec.GenerateUBL,
	}
}

// ValidateQuick runs the entity and structure phases only. Used on edits,
// where schematron latency is not acceptable.
func (p *Pipeline) ValidateQuick(doc *models.Document, company *models.Company) *Result {
	result, _ := p.run(context.Background(), doc, company, false)
	return result
}

// Validate runs all phases and returns the generated XML alongside the
// result so callers submit the exact bytes that passed validation.
func (p *Pipeline) Validate(ctx context.Context, doc *models.Document, company *models.Company) (*Result, []byte) {
	return p.run(ctx, doc, company, true)
}

// ValidateTransport runs the declaration rules for a transport note. The
// authority publishes no schematron for these, so the entity phase is the
// whole pipeline.
func (p *Pipeline) ValidateTransport(cif string, note *models.TransportNote) *Result {
	result := &Result{Valid: true}
	result.add(validateTransportEntity(cif, note))
	return result
}

func (p *Pipeline) run(ctx context.Context, doc *models.Document, company *models.Company, withSchematron bool) (*Result, []byte) {
	result := &Result{Valid: true}

	result.add(validateDocumentEntity(doc, company, p.rates))
	if !result.Valid {
		return result, nil
	}

	xmlBytes, errs := validateStructure(doc, p.generate)
	result.add(errs)
	if !result.Valid {
		return result, xmlBytes
	}

	if !withSchematron {
		return result, xmlBytes
	}

	if p.schematron == nil || !p.schematron.Healthy(ctx) {
		result.SchematronSkipped = true
		p.logger.WithField("document_id", doc.ID).Warn("Schematron validator unavailable, phase skipped")
		return result, xmlBytes
	}

	violations, err := p.schematron.Evaluate(ctx, xmlBytes, ruleSetFor(doc.Type == models.DocumentTypeCreditNote))
	if err != nil {
		// Degrade rather than block issuance on sidecar trouble.
		result.SchematronSkipped = true
		p.logger.WithError(err).WithField("document_id", doc.ID).Warn("Schematron evaluation failed, phase skipped")
		return result, xmlBytes
	}
	result.add(violations)

	return result, xmlBytes
}
