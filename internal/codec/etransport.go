package codec

import (
	"encoding/xml"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hypernova-labs/anaf-service/internal/models"
)

// e-Transport declaration schema, version 2. The payload is attribute
// based; one <eTransport> root with exactly one operation child.
const nsETransport = "mfp:anaf:dgti:eTransport:declaratie:v2"

type etGoods struct {
	PurposeCode     string `xml:"codScopOperatiune,attr,omitempty"`
	TariffCode      string `xml:"codTarifar,attr,omitempty"`
	Description     string `xml:"denumireMarfa,attr,omitempty"`
	Quantity        string `xml:"cantitate,attr"`
	UnitCode        string `xml:"codUnitateMasura,attr,omitempty"`
	NetWeight       string `xml:"greutateNeta,attr,omitempty"`
	GrossWeight     string `xml:"greutateBruta,attr,omitempty"`
	ValueWithoutVAT string `xml:"valoareLeiFaraTva,attr,omitempty"`
}

type etPartner struct {
	CountryCode string `xml:"codTara,attr"`
	Code        string `xml:"cod,attr,omitempty"`
	Name        string `xml:"denumire,attr,omitempty"`
}

type etTransportData struct {
	VehicleNumber      string `xml:"nrVehicul,attr,omitempty"`
	Trailer1           string `xml:"nrRemorca1,attr,omitempty"`
	Trailer2           string `xml:"nrRemorca2,attr,omitempty"`
	TransporterCountry string `xml:"codTaraOrgTransport,attr,omitempty"`
	TransporterCode    string `xml:"codOrgTransport,attr,omitempty"`
	TransporterName    string `xml:"denumireOrgTransport,attr,omitempty"`
	TransportDate      string `xml:"dataTransport,attr,omitempty"`
}

type etLocation struct {
	County     string `xml:"codJudet,attr,omitempty"`
	Locality   string `xml:"denumireLocalitate,attr,omitempty"`
	Street     string `xml:"denumireStrada,attr,omitempty"`
	Number     string `xml:"numar,attr,omitempty"`
	PostalCode string `xml:"codPostal,attr,omitempty"`
	OtherInfo  string `xml:"alteInfo,attr,omitempty"`
}

type etRouteEndpoint struct {
	Location etLocation `xml:"locatie"`
}

type etTransportDocument struct {
	DocType string `xml:"tipDocument,attr"`
	Number  string `xml:"numarDocument,attr,omitempty"`
	Date    string `xml:"dataDocument,attr,omitempty"`
}

type etCorrection struct {
	UIT string `xml:"uit,attr"`
}

type etNotification struct {
	OperationType string               `xml:"codTipOperatiune,attr"`
	Correction    *etCorrection        `xml:"corectie,omitempty"`
	Goods         []etGoods            `xml:"bunuriTransportate"`
	Partner       etPartner            `xml:"partenerComercial"`
	TransportData etTransportData      `xml:"dateTransport"`
	RouteStart    etRouteEndpoint      `xml:"locStartTraseuRutier"`
	RouteEnd      etRouteEndpoint      `xml:"locFinalTraseuRutier"`
	Documents     etTransportDocument  `xml:"documenteTransport"`
}

type etDeletion struct {
	UIT string `xml:"uit,attr"`
}

type etConfirmation struct {
	UIT     string `xml:"uit,attr"`
	Type    string `xml:"tipConfirmare,attr"`
	Remarks string `xml:"observatii,attr,omitempty"`
}

type etRoot struct {
	XMLName      xml.Name        `xml:"eTransport"`
	Xmlns        string          `xml:"xmlns,attr"`
	Declarant    string          `xml:"codDeclarant,attr"`
	Reference    string          `xml:"refDeclarant,attr,omitempty"`
	PostIncident string          `xml:"declPostAvarie,attr,omitempty"`
	Notification *etNotification `xml:"notificare,omitempty"`
	Deletion     *etDeletion     `xml:"stergere,omitempty"`
	Confirmation *etConfirmation `xml:"confirmare,omitempty"`
}

// GenerateTransportNotification renders the initial transport declaration.
func GenerateTransportNotification(cif string, note *models.TransportNote) ([]byte, error) {
	root := transportRoot(cif, note)
	root.Notification = buildNotification(note)
	return marshalTree(root)
}

// GenerateTransportCorrection renders the same payload as a notification
// with a <corectie> child referencing the UIT being corrected.
func GenerateTransportCorrection(cif string, note *models.TransportNote, uit string) ([]byte, error) {
	root := transportRoot(cif, note)
	root.Notification = buildNotification(note)
	root.Notification.Correction = &etCorrection{UIT: uit}
	return marshalTree(root)
}

// GenerateTransportDeletion renders a deletion for an existing UIT.
func GenerateTransportDeletion(cif, uit string) ([]byte, error) {
	return marshalTree(&etRoot{
		Xmlns:     nsETransport,
		Declarant: models.NormalizeCIF(cif),
		Deletion:  &etDeletion{UIT: uit},
	})
}

// GenerateTransportConfirmation renders a goods reception confirmation.
// confirmType 10 means received, 20 refused.
func GenerateTransportConfirmation(cif, uit string, confirmType int, remarks string) ([]byte, error) {
	return marshalTree(&etRoot{
		Xmlns:     nsETransport,
		Declarant: models.NormalizeCIF(cif),
		Confirmation: &etConfirmation{
			UIT:     uit,
			Type:    fmt.Sprintf("%d", confirmType),
			Remarks: remarks,
		},
	})
}

func transportRoot(cif string, note *models.TransportNote) *etRoot {
	root := &etRoot{
		Xmlns:     nsETransport,
		Declarant: models.NormalizeCIF(cif),
		Reference: note.ID.String(),
	}
	if note.PostIncident {
		root.PostIncident = "D"
	}
	return root
}

func buildNotification(note *models.TransportNote) *etNotification {
	opType := note.OperationType
	if opType == 0 {
		opType = 30
	}

	n := &etNotification{
		OperationType: fmt.Sprintf("%d", opType),
		Partner:       buildTransportPartner(note.Partner),
		TransportData: etTransportData{
			VehicleNumber:      note.VehicleNumber,
			Trailer1:           note.Trailer1,
			Trailer2:           note.Trailer2,
			TransporterCountry: note.TransporterCountry,
			TransporterCode:    note.TransporterCode,
			TransporterName:    note.TransporterName,
		},
		RouteStart: etRouteEndpoint{Location: buildTransportLocation(note.RouteStart)},
		RouteEnd:   etRouteEndpoint{Location: buildTransportLocation(note.RouteEnd)},
		Documents: etTransportDocument{
			// 30 = delivery note accompanying the goods
			DocType: "30",
			Number:  note.Number,
			Date:    note.IssueDate.Format("2006-01-02"),
		},
	}

	if note.TransportDate != nil {
		n.TransportData.TransportDate = note.TransportDate.Format("2006-01-02")
	}

	for _, line := range note.Lines {
		n.Goods = append(n.Goods, buildTransportGoods(line))
	}

	return n
}

func buildTransportPartner(p *models.Party) etPartner {
	partner := etPartner{CountryCode: "RO"}
	if p == nil {
		return partner
	}
	if p.Country != "" {
		partner.CountryCode = p.Country
	}
	partner.Code = models.NormalizeCIF(p.CIF)
	partner.Name = p.Name
	return partner
}

func buildTransportGoods(line models.TransportLine) etGoods {
	g := etGoods{
		Description: line.Description,
		TariffCode:  line.TariffCode,
		Quantity:    formatAmount(line.Quantity),
		UnitCode:    line.UnitCode,
	}
	if line.PurposeCode != 0 {
		g.PurposeCode = fmt.Sprintf("%d", line.PurposeCode)
	}
	if !line.NetWeight.Equal(decimal.Zero) {
		g.NetWeight = formatAmount(line.NetWeight)
	}
	if !line.GrossWeight.Equal(decimal.Zero) {
		g.GrossWeight = formatAmount(line.GrossWeight)
	}
	if !line.ValueWithoutVAT.Equal(decimal.Zero) {
		g.ValueWithoutVAT = formatAmount(line.ValueWithoutVAT)
	}
	return g
}

func buildTransportLocation(loc models.TransportLocation) etLocation {
	return etLocation{
		County:     NormalizeCounty(loc.County),
		Locality:   loc.Locality,
		Street:     loc.Street,
		Number:     loc.Number,
		PostalCode: loc.PostalCode,
		OtherInfo:  loc.OtherInfo,
	}
}
