package codec

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/hypernova-labs/anaf-service/internal/models"
)

// UBL 2.1 namespaces and the CIUS-RO customization accepted by the
// authority. Element order below is schema-mandated; validators reject
// out-of-order elements even when the content is valid.
const (
	nsInvoice    = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	nsCreditNote = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"
	nsCAC        = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	nsCBC        = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"

	customizationID = "urn:cen.eu:en16931:2017#compliant#urn:efactura.mfinante.ro:CIUS-RO:1.0.1"

	invoiceTypeCode    = "380"
	creditNoteTypeCode = "381"

	// CompanyID used for consumers without a registration number.
	placeholderCompanyID = "0000000000000"
)

type ublAmount struct {
	CurrencyID string `xml:"currencyID,attr"`
	Value      string `xml:",chardata"`
}

type ublQuantity struct {
	UnitCode string `xml:"unitCode,attr"`
	Value    string `xml:",chardata"`
}

type ublPartyName struct {
	Name string `xml:"cbc:Name"`
}

type ublCountry struct {
	IdentificationCode string `xml:"cbc:IdentificationCode"`
}

type ublAddress struct {
	StreetName       string     `xml:"cbc:StreetName,omitempty"`
	CityName         string     `xml:"cbc:CityName,omitempty"`
	CountrySubentity string     `xml:"cbc:CountrySubentity,omitempty"`
	Country          ublCountry `xml:"cac:Country"`
}

type ublTaxScheme struct {
	ID string `xml:"cbc:ID"`
}

type ublPartyTaxScheme struct {
	CompanyID string       `xml:"cbc:CompanyID"`
	TaxScheme ublTaxScheme `xml:"cac:TaxScheme"`
}

type ublLegalEntity struct {
	RegistrationName string `xml:"cbc:RegistrationName"`
	CompanyID        string `xml:"cbc:CompanyID"`
}

type ublParty struct {
	PartyName        ublPartyName       `xml:"cac:PartyName"`
	PostalAddress    ublAddress         `xml:"cac:PostalAddress"`
	PartyTaxScheme   *ublPartyTaxScheme `xml:"cac:PartyTaxScheme,omitempty"`
	PartyLegalEntity ublLegalEntity     `xml:"cac:PartyLegalEntity"`
}

type ublPartyContainer struct {
	Party ublParty `xml:"cac:Party"`
}

type ublFinancialAccount struct {
	ID string `xml:"cbc:ID"`
}

type ublPaymentMeans struct {
	PaymentMeansCode      string               `xml:"cbc:PaymentMeansCode"`
	PayeeFinancialAccount *ublFinancialAccount `xml:"cac:PayeeFinancialAccount,omitempty"`
}

type ublTaxCategory struct {
	ID        string       `xml:"cbc:ID"`
	Percent   string       `xml:"cbc:Percent"`
	TaxScheme ublTaxScheme `xml:"cac:TaxScheme"`
}

type ublTaxSubtotal struct {
	TaxableAmount ublAmount      `xml:"cbc:TaxableAmount"`
	TaxAmount     ublAmount      `xml:"cbc:TaxAmount"`
	TaxCategory   ublTaxCategory `xml:"cac:TaxCategory"`
}

type ublTaxTotal struct {
	TaxAmount   ublAmount        `xml:"cbc:TaxAmount"`
	TaxSubtotal []ublTaxSubtotal `xml:"cac:TaxSubtotal"`
}

type ublMonetaryTotal struct {
	LineExtensionAmount ublAmount `xml:"cbc:LineExtensionAmount"`
	TaxExclusiveAmount  ublAmount `xml:"cbc:TaxExclusiveAmount"`
	TaxInclusiveAmount  ublAmount `xml:"cbc:TaxInclusiveAmount"`
	PayableAmount       ublAmount `xml:"cbc:PayableAmount"`
}

type ublItem struct {
	Name                  string         `xml:"cbc:Name"`
	ClassifiedTaxCategory ublTaxCategory `xml:"cac:ClassifiedTaxCategory"`
}

type ublPrice struct {
	PriceAmount ublAmount `xml:"cbc:PriceAmount"`
}

type ublInvoiceLine struct {
	ID                  string      `xml:"cbc:ID"`
	InvoicedQuantity    ublQuantity `xml:"cbc:InvoicedQuantity"`
	LineExtensionAmount ublAmount   `xml:"cbc:LineExtensionAmount"`
	Item                ublItem     `xml:"cac:Item"`
	Price               ublPrice    `xml:"cac:Price"`
}

type ublCreditNoteLine struct {
	ID                  string      `xml:"cbc:ID"`
	CreditedQuantity    ublQuantity `xml:"cbc:CreditedQuantity"`
	LineExtensionAmount ublAmount   `xml:"cbc:LineExtensionAmount"`
	Item                ublItem     `xml:"cac:Item"`
	Price               ublPrice    `xml:"cac:Price"`
}

type ublInvoice struct {
	XMLName  xml.Name `xml:"Invoice"`
	Xmlns    string   `xml:"xmlns,attr"`
	XmlnsCAC string   `xml:"xmlns:cac,attr"`
	XmlnsCBC string   `xml:"xmlns:cbc,attr"`

	CustomizationID      string `xml:"cbc:CustomizationID"`
	ID                   string `xml:"cbc:ID"`
	IssueDate            string `xml:"cbc:IssueDate"`
	DueDate              string `xml:"cbc:DueDate,omitempty"`
	InvoiceTypeCode      string `xml:"cbc:InvoiceTypeCode"`
	DocumentCurrencyCode string `xml:"cbc:DocumentCurrencyCode"`

	AccountingSupplierParty ublPartyContainer `xml:"cac:AccountingSupplierParty"`
	AccountingCustomerParty ublPartyContainer `xml:"cac:AccountingCustomerParty"`
	PaymentMeans            *ublPaymentMeans  `xml:"cac:PaymentMeans,omitempty"`
	TaxTotal                ublTaxTotal       `xml:"cac:TaxTotal"`
	LegalMonetaryTotal      ublMonetaryTotal  `xml:"cac:LegalMonetaryTotal"`
	Lines                   []ublInvoiceLine  `xml:"cac:InvoiceLine"`
}

type ublCreditNote struct {
	XMLName  xml.Name `xml:"CreditNote"`
	Xmlns    string   `xml:"xmlns,attr"`
	XmlnsCAC string   `xml:"xmlns:cac,attr"`
	XmlnsCBC string   `xml:"xmlns:cbc,attr"`

	CustomizationID      string `xml:"cbc:CustomizationID"`
	ID                   string `xml:"cbc:ID"`
	IssueDate            string `xml:"cbc:IssueDate"`
	CreditNoteTypeCode   string `xml:"cbc:CreditNoteTypeCode"`
	DocumentCurrencyCode string `xml:"cbc:DocumentCurrencyCode"`

	AccountingSupplierParty ublPartyContainer   `xml:"cac:AccountingSupplierParty"`
	AccountingCustomerParty ublPartyContainer   `xml:"cac:AccountingCustomerParty"`
	PaymentMeans            *ublPaymentMeans    `xml:"cac:PaymentMeans,omitempty"`
	TaxTotal                ublTaxTotal         `xml:"cac:TaxTotal"`
	LegalMonetaryTotal      ublMonetaryTotal    `xml:"cac:LegalMonetaryTotal"`
	Lines                   []ublCreditNoteLine `xml:"cac:CreditNoteLine"`
}

// GenerateUBL renders a document as CIUS-RO compliant UBL 2.1 XML.
func GenerateUBL(doc *models.Document) ([]byte, error) {
	if doc.Supplier == nil || doc.Customer == nil {
		return nil, fmt.Errorf("document %s is missing supplier or customer", doc.ID)
	}

	switch doc.Type {
	case models.DocumentTypeInvoice:
		return marshalTree(buildInvoice(doc))
	case models.DocumentTypeCreditNote:
		return marshalTree(buildCreditNote(doc))
	default:
		return nil, fmt.Errorf("unsupported document type for UBL generation: %s", doc.Type)
	}
}

func marshalTree(v interface{}) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error marshalling UBL tree: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func buildInvoice(doc *models.Document) *ublInvoice {
	inv := &ublInvoice{
		Xmlns:                nsInvoice,
		XmlnsCAC:             nsCAC,
		XmlnsCBC:             nsCBC,
		CustomizationID:      customizationID,
		ID:                   doc.FullNumber(),
		IssueDate:            doc.IssueDate.Format("2006-01-02"),
		InvoiceTypeCode:      invoiceTypeCode,
		DocumentCurrencyCode: doc.Currency,

		AccountingSupplierParty: ublPartyContainer{Party: buildParty(doc.Supplier)},
		AccountingCustomerParty: ublPartyContainer{Party: buildParty(doc.Customer)},
		PaymentMeans:            buildPaymentMeans(doc.Supplier),
		TaxTotal:                buildTaxTotal(doc),
		LegalMonetaryTotal:      buildMonetaryTotal(doc),
	}

	if doc.DueDate != nil {
		inv.DueDate = doc.DueDate.Format("2006-01-02")
	}

	for i, line := range doc.Lines {
		inv.Lines = append(inv.Lines, ublInvoiceLine{
			ID:                  fmt.Sprintf("%d", i+1),
			InvoicedQuantity:    ublQuantity{UnitCode: UnitCode(line.Unit), Value: formatAmount(line.Quantity)},
			LineExtensionAmount: amount(doc.Currency, line.LineTotal),
			Item:                buildItem(line),
			Price:               ublPrice{PriceAmount: amount(doc.Currency, line.UnitPrice)},
		})
	}

	return inv
}

func buildCreditNote(doc *models.Document) *ublCreditNote {
	cn := &ublCreditNote{
		Xmlns:                nsCreditNote,
		XmlnsCAC:             nsCAC,
		XmlnsCBC:             nsCBC,
		CustomizationID:      customizationID,
		ID:                   doc.FullNumber(),
		IssueDate:            doc.IssueDate.Format("2006-01-02"),
		CreditNoteTypeCode:   creditNoteTypeCode,
		DocumentCurrencyCode: doc.Currency,

		AccountingSupplierParty: ublPartyContainer{Party: buildParty(doc.Supplier)},
		AccountingCustomerParty: ublPartyContainer{Party: buildParty(doc.Customer)},
		PaymentMeans:            buildPaymentMeans(doc.Supplier),
		TaxTotal:                buildTaxTotal(doc),
		LegalMonetaryTotal:      buildMonetaryTotal(doc),
	}

	for i, line := range doc.Lines {
		cn.Lines = append(cn.Lines, ublCreditNoteLine{
			ID:                  fmt.Sprintf("%d", i+1),
			CreditedQuantity:    ublQuantity{UnitCode: UnitCode(line.Unit), Value: formatAmount(line.Quantity)},
			LineExtensionAmount: amount(doc.Currency, line.LineTotal),
			Item:                buildItem(line),
			Price:               ublPrice{PriceAmount: amount(doc.Currency, line.UnitPrice)},
		})
	}

	return cn
}

func buildParty(p *models.Party) ublParty {
	party := ublParty{
		PartyName: ublPartyName{Name: p.Name},
		PostalAddress: ublAddress{
			StreetName:       p.Address,
			CityName:         p.City,
			CountrySubentity: countrySubentity(p),
			Country:          ublCountry{IdentificationCode: countryOrDefault(p.Country)},
		},
		PartyLegalEntity: ublLegalEntity{
			RegistrationName: p.Name,
			CompanyID:        legalCompanyID(p),
		},
	}

	if !p.IsIndividual() && p.CIF != "" {
		party.PartyTaxScheme = &ublPartyTaxScheme{
			CompanyID: prefixedCIF(p),
			TaxScheme: ublTaxScheme{ID: "VAT"},
		}
	}

	return party
}

func buildPaymentMeans(supplier *models.Party) *ublPaymentMeans {
	if supplier.BankAccount == nil || *supplier.BankAccount == "" {
		return nil
	}
	return &ublPaymentMeans{
		// 30 = credit transfer
		PaymentMeansCode:      "30",
		PayeeFinancialAccount: &ublFinancialAccount{ID: *supplier.BankAccount},
	}
}

func buildItem(line models.Line) ublItem {
	return ublItem{
		Name: line.Description,
		ClassifiedTaxCategory: ublTaxCategory{
			ID:        line.VATCategory,
			Percent:   formatAmount(line.VATRate),
			TaxScheme: ublTaxScheme{ID: "VAT"},
		},
	}
}

// buildTaxTotal groups lines by VAT category and rate; the schema requires
// one TaxSubtotal per distinct pair.
func buildTaxTotal(doc *models.Document) ublTaxTotal {
	type group struct {
		category string
		rate     decimal.Decimal
		taxable  decimal.Decimal
		tax      decimal.Decimal
	}

	groups := map[string]*group{}
	var keys []string

	for _, line := range doc.Lines {
		key := line.VATCategory + "|" + line.VATRate.String()
		g, ok := groups[key]
		if !ok {
			g = &group{category: line.VATCategory, rate: line.VATRate}
			groups[key] = g
			keys = append(keys, key)
		}
		g.taxable = g.taxable.Add(line.LineTotal)
		g.tax = g.tax.Add(line.VATAmount)
	}
	sort.Strings(keys)

	total := ublTaxTotal{TaxAmount: amount(doc.Currency, doc.VATTotal)}
	for _, key := range keys {
		g := groups[key]
		total.TaxSubtotal = append(total.TaxSubtotal, ublTaxSubtotal{
			TaxableAmount: amount(doc.Currency, g.taxable),
			TaxAmount:     amount(doc.Currency, g.tax),
			TaxCategory: ublTaxCategory{
				ID:        g.category,
				Percent:   formatAmount(g.rate),
				TaxScheme: ublTaxScheme{ID: "VAT"},
			},
		})
	}

	return total
}

func buildMonetaryTotal(doc *models.Document) ublMonetaryTotal {
	return ublMonetaryTotal{
		LineExtensionAmount: amount(doc.Currency, doc.Subtotal),
		TaxExclusiveAmount:  amount(doc.Currency, doc.Subtotal),
		TaxInclusiveAmount:  amount(doc.Currency, doc.Total),
		PayableAmount:       amount(doc.Currency, doc.Total),
	}
}

func amount(currency string, v decimal.Decimal) ublAmount {
	return ublAmount{CurrencyID: currency, Value: formatAmount(v)}
}

// formatAmount renders a fixed-point value with trailing zeros trimmed:
// "2500.00" becomes "2500", "25000.09" stays unchanged.
func formatAmount(v decimal.Decimal) string {
	return v.String()
}

func prefixedCIF(p *models.Party) string {
	country := countryOrDefault(p.Country)
	cif := models.NormalizeCIF(p.CIF)
	return country + cif
}

func legalCompanyID(p *models.Party) string {
	cif := models.NormalizeCIF(p.CIF)
	if cif == "" || models.IsPlaceholderCIF(cif) {
		return placeholderCompanyID
	}
	return cif
}

func countryOrDefault(country string) string {
	if country == "" {
		return "RO"
	}
	return country
}

func countrySubentity(p *models.Party) string {
	if p.County == "" {
		return ""
	}
	return "RO-" + NormalizeCounty(p.County)
}
