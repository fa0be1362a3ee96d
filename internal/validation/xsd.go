package validation

import (
	"fmt"

	"github.com/hypernova-labs/anaf-service/internal/codec"
	"github.com/hypernova-labs/anaf-service/internal/models"
)

// validateStructure generates the wire document and checks it for
// well-formedness and the mandatory elements the authority schema
// requires. Returns the generated XML so later phases reuse it.
func validateStructure(doc *models.Document, generate func(*models.Document) ([]byte, error)) ([]byte, []Violation) {
	xmlBytes, err := generate(doc)
	if err != nil {
		return nil, []Violation{fatal("xsd", fmt.Sprintf("could not generate document XML: %v", err))}
	}

	parsed, err := codec.Parse(xmlBytes)
	if err != nil {
		return xmlBytes, []Violation{fatal("xsd", fmt.Sprintf("generated XML is not well formed: %v", err))}
	}

	var errs []Violation
	if parsed.Number == "" {
		errs = append(errs, fatal("xsd", "generated XML is missing the document identifier"))
	}
	if parsed.IssueDate.IsZero() {
		errs = append(errs, fatal("xsd", "generated XML is missing the issue date"))
	}
	if parsed.Supplier.Name == "" {
		errs = append(errs, fatal("xsd", "generated XML is missing the supplier party"))
	}
	if parsed.Customer.Name == "" {
		errs = append(errs, fatal("xsd", "generated XML is missing the customer party"))
	}
	if len(parsed.Lines) == 0 {
		errs = append(errs, fatal("xsd", "generated XML has no document lines"))
	}
	if parsed.Total.IsZero() && !doc.Total.IsZero() {
		errs = append(errs, fatal("xsd", "generated XML is missing the payable amount"))
	}

	return xmlBytes, errs
}
