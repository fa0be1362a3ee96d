package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypernova-labs/anaf-service/internal/models"
)

// Defaults applied to incoming documents that omit optional tax data.
var (
	defaultVATRate     = decimal.NewFromInt(21)
	defaultVATCategory = "S"
	defaultCurrency    = "RON"
)

// ParseError reports malformed XML with the parser diagnostic position
// when the underlying decoder provides one.
type ParseError struct {
	Line    int
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("xml parse error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("xml parse error: %s", e.Message)
}

// ParsedDocument is the structured form of an authority XML payload.
type ParsedDocument struct {
	Type      models.DocumentType
	Number    string
	IssueDate time.Time
	DueDate   *time.Time
	Currency  string

	Supplier ParsedParty
	Customer ParsedParty

	Lines       []ParsedLine
	Subtotal    decimal.Decimal
	VATTotal    decimal.Decimal
	Total       decimal.Decimal
	Attachments []ParsedAttachment
}

// ParsedParty is one trading partner extracted from the document.
type ParsedParty struct {
	CIF         string
	Name        string
	Address     string
	City        string
	County      string
	Country     string
	BankAccount string
}

// ParsedLine is one billable row extracted from the document.
type ParsedLine struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	VATCategory string
	VATAmount   decimal.Decimal
	LineTotal   decimal.Decimal
}

// ParsedAttachment is an embedded binary extracted from the document.
type ParsedAttachment struct {
	FileName string
	MimeType string
	Content  []byte
}

// Parse reads an authority UBL payload back into structured data. Missing
// optional elements yield zero values; a missing or unknown root element
// is an error.
func Parse(data []byte) (*ParsedDocument, error) {
	root, err := decodeTree(data)
	if err != nil {
		return nil, err
	}

	var (
		docType models.DocumentType
		lineTag string
		qtyTag  string
	)

	switch root.local {
	case "Invoice":
		docType, lineTag, qtyTag = models.DocumentTypeInvoice, "InvoiceLine", "InvoicedQuantity"
		if root.space != "" && root.space != nsInvoice {
			return nil, &ParseError{Message: fmt.Sprintf("unexpected namespace %q for Invoice root", root.space)}
		}
	case "CreditNote":
		docType, lineTag, qtyTag = models.DocumentTypeCreditNote, "CreditNoteLine", "CreditedQuantity"
		if root.space != "" && root.space != nsCreditNote {
			return nil, &ParseError{Message: fmt.Sprintf("unexpected namespace %q for CreditNote root", root.space)}
		}
	default:
		return nil, &ParseError{Message: fmt.Sprintf("unsupported root element <%s>", root.local)}
	}

	doc := &ParsedDocument{
		Type:     docType,
		Number:   root.childText("ID"),
		Currency: defaultCurrency,
	}

	if c := root.childText("DocumentCurrencyCode"); c != "" {
		doc.Currency = c
	}
	if d, ok := parseDate(root.childText("IssueDate")); ok {
		doc.IssueDate = d
	}
	if d, ok := parseDate(root.childText("DueDate")); ok {
		doc.DueDate = &d
	}

	doc.Supplier = parseParty(root.child("AccountingSupplierParty"))
	doc.Customer = parseParty(root.child("AccountingCustomerParty"))

	if pm := root.child("PaymentMeans"); pm != nil {
		if acc := pm.child("PayeeFinancialAccount"); acc != nil {
			doc.Supplier.BankAccount = acc.childText("ID")
		}
	}

	for _, ln := range root.children(lineTag) {
		doc.Lines = append(doc.Lines, parseLine(ln, qtyTag))
	}

	if mt := root.child("LegalMonetaryTotal"); mt != nil {
		doc.Subtotal = parseDecimal(mt.childText("LineExtensionAmount"))
		doc.Total = parseDecimal(mt.childText("TaxInclusiveAmount"))
	}
	if tt := root.child("TaxTotal"); tt != nil {
		doc.VATTotal = parseDecimal(tt.childText("TaxAmount"))
	}

	for _, ref := range root.children("AdditionalDocumentReference") {
		att := ref.child("Attachment")
		if att == nil {
			continue
		}
		obj := att.child("EmbeddedDocumentBinaryObject")
		if obj == nil {
			continue
		}
		content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(obj.text))
		if err != nil {
			continue
		}
		doc.Attachments = append(doc.Attachments, ParsedAttachment{
			FileName: obj.attr("filename"),
			MimeType: obj.attr("mimeCode"),
			Content:  content,
		})
	}

	return doc, nil
}

func parseParty(container *xmlNode) ParsedParty {
	var p ParsedParty
	if container == nil {
		return p
	}
	party := container.child("Party")
	if party == nil {
		return p
	}

	if pn := party.child("PartyName"); pn != nil {
		p.Name = pn.childText("Name")
	}

	if ts := party.child("PartyTaxScheme"); ts != nil {
		p.CIF = models.NormalizeCIF(ts.childText("CompanyID"))
	}

	if le := party.child("PartyLegalEntity"); le != nil {
		if p.Name == "" {
			p.Name = le.childText("RegistrationName")
		}
		if p.CIF == "" {
			p.CIF = models.NormalizeCIF(le.childText("CompanyID"))
		}
	}

	if addr := party.child("PostalAddress"); addr != nil {
		p.Address = addr.childText("StreetName")
		p.City = addr.childText("CityName")
		p.County = NormalizeCounty(addr.childText("CountrySubentity"))
		if c := addr.child("Country"); c != nil {
			p.Country = c.childText("IdentificationCode")
		}
	}

	return p
}

func parseLine(ln *xmlNode, qtyTag string) ParsedLine {
	line := ParsedLine{
		Unit:        defaultUnitLocal,
		VATRate:     defaultVATRate,
		VATCategory: defaultVATCategory,
	}

	if q := ln.child(qtyTag); q != nil {
		line.Quantity = parseDecimal(q.text)
		if code := q.attr("unitCode"); code != "" {
			line.Unit = UnitLocal(code)
		}
	}

	line.LineTotal = parseDecimal(ln.childText("LineExtensionAmount"))

	if item := ln.child("Item"); item != nil {
		line.Description = item.childText("Name")
		if cat := item.child("ClassifiedTaxCategory"); cat != nil {
			if id := cat.childText("ID"); id != "" {
				line.VATCategory = id
			}
			if pct := cat.childText("Percent"); pct != "" {
				line.VATRate = parseDecimal(pct)
			}
		}
	}

	if price := ln.child("Price"); price != nil {
		line.UnitPrice = parseDecimal(price.childText("PriceAmount"))
	}

	line.VATAmount = line.LineTotal.Mul(line.VATRate).Div(decimal.NewFromInt(100)).Round(2)

	return line
}

func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// xmlNode is a namespace-tolerant DOM node; lookups match on local names
// so cbc/cac prefix variations do not matter.
type xmlNode struct {
	space    string
	local    string
	attrs    []xml.Attr
	text     string
	nodes    []*xmlNode
}

func (n *xmlNode) child(local string) *xmlNode {
	for _, c := range n.nodes {
		if c.local == local {
			return c
		}
	}
	return nil
}

func (n *xmlNode) children(local string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.nodes {
		if c.local == local {
			out = append(out, c)
		}
	}
	return out
}

func (n *xmlNode) childText(local string) string {
	if c := n.child(local); c != nil {
		return strings.TrimSpace(c.text)
	}
	return ""
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func decodeTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var root *xmlNode
	var stack []*xmlNode

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if se, ok := err.(*xml.SyntaxError); ok {
				return nil, &ParseError{Line: se.Line, Message: se.Msg}
			}
			return nil, &ParseError{Message: err.Error()}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{
				space: t.Name.Space,
				local: t.Name.Local,
				attrs: t.Attr,
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Message: "multiple root elements"}
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.nodes = append(parent.nodes, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}

	if root == nil {
		return nil, &ParseError{Message: "empty document"}
	}
	return root, nil
}
