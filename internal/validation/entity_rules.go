package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hypernova-labs/anaf-service/internal/codec"
	"github.com/hypernova-labs/anaf-service/internal/models"
)

// Fallback VAT rates used when the tenant has no configured set.
var fallbackVATRates = []string{"0.00", "5.00", "9.00", "21.00"}

var vehicleNumberPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// RateProvider resolves destination-country VAT rates for cross-border
// one-stop-shop documents. Optional.
type RateProvider interface {
	RatesForCountry(country string) []string
}

// validateDocumentEntity runs the business rules that apply to the
// structured document before any XML exists. Violations accumulate; this
// phase does not short-circuit internally.
func validateDocumentEntity(doc *models.Document, company *models.Company, rates RateProvider) []Violation {
	var errs []Violation
	isRefund := doc.IsRefund()

	validRates := allowedVATRates(doc, company, rates)

	// Tenant completeness.
	if company == nil {
		errs = append(errs, fatal("business", "document has no company attached"))
	} else {
		if company.CIF == "" {
			errs = append(errs, fatal("business", "company tax identifier is missing"))
		}
		if company.Name == "" {
			errs = append(errs, fatal("business", "company name is missing"))
		}
		if company.Address == "" {
			errs = append(errs, fatal("business", "company address is missing"))
		}
		if company.City == "" {
			errs = append(errs, fatal("business", "company city is missing"))
		}
		if company.Country == "" {
			errs = append(errs, fatal("business", "company country is missing"))
		}
	}

	// Receiver completeness.
	client := doc.Customer
	if client != nil {
		if !client.IsIndividual() && models.NormalizeCIF(client.CIF) == "" {
			errs = append(errs, fatal("business", "customer is a company but has no tax identifier"))
		}
		if client.Name == "" {
			errs = append(errs, fatal("business", "customer name is missing"))
		}
		if client.Address == "" {
			errs = append(errs, fatal("business", "customer address is missing"))
		}
		if client.City == "" {
			errs = append(errs, fatal("business", "customer city is missing"))
		}
	} else {
		errs = append(errs, fatal("business", "document has no customer attached"))
	}

	if doc.Number == "" {
		errs = append(errs, fatal("business", "document has no number assigned"))
	}
	if doc.IssueDate.IsZero() {
		errs = append(errs, fatal("business", "document has no issue date"))
	}

	if len(doc.Lines) == 0 {
		errs = append(errs, fatal("business", "document has no lines"))
	}

	for i, line := range doc.Lines {
		n := i + 1

		if line.Description == "" {
			errs = append(errs, fatal("business", fmt.Sprintf("line %d has no description", n)))
		}

		if isRefund {
			// Refund lines are typically negative but must not be zero.
			if line.Quantity.IsZero() {
				errs = append(errs, fatal("business", fmt.Sprintf("line %d has zero quantity", n)))
			}
			if line.UnitPrice.IsZero() {
				errs = append(errs, fatal("business", fmt.Sprintf("line %d has zero unit price", n)))
			}
		} else {
			if line.UnitPrice.Sign() <= 0 {
				errs = append(errs, fatal("business", fmt.Sprintf("line %d has zero or negative unit price", n)))
			}
			if line.Quantity.Sign() <= 0 {
				errs = append(errs, fatal("business", fmt.Sprintf("line %d has zero or negative quantity", n)))
			}
		}

		if !rateAllowed(line.VATRate, validRates) {
			errs = append(errs, fatal("business", fmt.Sprintf(
				"line %d has an invalid VAT rate (%s%%), valid rates: %s%%",
				n, line.VATRate.StringFixed(2), strings.Join(validRates, "%, "))))
		}
	}

	if isRefund {
		if doc.Total.IsZero() {
			errs = append(errs, fatal("business", "refund document total must be non-zero"))
		}
	} else if doc.Total.Sign() <= 0 {
		errs = append(errs, fatal("business", "document total must be greater than zero"))
	}

	return errs
}

// allowedVATRates is the tenant's configured set, extended with the
// destination country's rates for cross-border consumer sales.
func allowedVATRates(doc *models.Document, company *models.Company, rates RateProvider) []string {
	valid := fallbackVATRates
	if company != nil && len(company.VATRates) > 0 {
		valid = append([]string(nil), company.VATRates...)
	}

	if rates != nil && company != nil && doc.Customer != nil &&
		doc.Customer.Country != "" && doc.Customer.Country != "RO" {
		for _, r := range rates.RatesForCountry(doc.Customer.Country) {
			if !containsRate(valid, r) {
				valid = append(valid, r)
			}
		}
	}

	return valid
}

func containsRate(rates []string, rate string) bool {
	for _, r := range rates {
		if r == rate {
			return true
		}
	}
	return false
}

func rateAllowed(rate decimal.Decimal, valid []string) bool {
	for _, v := range valid {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		if rate.Equal(d) {
			return true
		}
	}
	return false
}

// validateTransportEntity runs the declaration-level rules for transport
// notes: identifier formats, UIT checksum and route completeness.
func validateTransportEntity(cif string, note *models.TransportNote) []Violation {
	var errs []Violation

	if !cifOrPersonalCode(cif) {
		errs = append(errs, fatal("BR-002", "declarant code is not a valid tax or personal identifier"))
	}

	if note.UIT != nil && *note.UIT != "" {
		if err := codec.ValidateUIT(*note.UIT); err != nil {
			errs = append(errs, fatal("BR-019", fmt.Sprintf("invalid UIT: %v", err)))
		}
	}

	if note.VehicleNumber == "" || !vehicleNumberPattern.MatchString(note.VehicleNumber) {
		errs = append(errs, fatal("BR-031", "vehicle number must be 2-20 characters, A-Z and digits only"))
	}
	if note.Trailer1 != "" && !vehicleNumberPattern.MatchString(note.Trailer1) {
		errs = append(errs, fatal("BR-032", "trailer 1 number must be 2-20 characters, A-Z and digits only"))
	}
	if note.Trailer2 != "" && !vehicleNumberPattern.MatchString(note.Trailer2) {
		errs = append(errs, fatal("BR-033", "trailer 2 number must be 2-20 characters, A-Z and digits only"))
	}

	if note.RouteStart.County == "" || note.RouteStart.Locality == "" {
		errs = append(errs, fatal("BR-210", "route start must have county and locality"))
	}
	if note.RouteEnd.County == "" || note.RouteEnd.Locality == "" {
		errs = append(errs, fatal("BR-211", "route end must have county and locality"))
	}

	if len(note.Lines) == 0 {
		errs = append(errs, fatal("BR-027", "declaration has no goods lines"))
	}

	for i, line := range note.Lines {
		n := i + 1

		if line.Quantity.Sign() <= 0 {
			errs = append(errs, fatal("BR-027", fmt.Sprintf("goods line %d quantity must be positive", n)))
		}
		if line.GrossWeight.Sign() <= 0 {
			errs = append(errs, fatal("BR-218", fmt.Sprintf("goods line %d gross weight is required", n)))
		} else if line.NetWeight.Sign() > 0 && line.GrossWeight.LessThan(line.NetWeight) {
			errs = append(errs, fatal("BR-020", fmt.Sprintf("goods line %d gross weight must be at least the net weight", n)))
		}
	}

	return errs
}

func cifOrPersonalCode(id string) bool {
	id = models.NormalizeCIF(id)
	if models.IsPersonalCode(id) {
		return true
	}
	if len(id) < 2 || len(id) > 10 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
