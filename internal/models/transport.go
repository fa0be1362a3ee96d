package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransportNote is a road-transport declaration announcing goods movement
// to the authority before the transport starts.
type TransportNote struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CompanyID uuid.UUID `json:"company_id" db:"company_id"`
	Number    string    `json:"number" db:"number"`
	IssueDate time.Time `json:"issue_date" db:"issue_date"`

	// codTipOperatiune; 30 is a domestic transport.
	OperationType int  `json:"operation_type" db:"operation_type"`
	PostIncident  bool `json:"post_incident" db:"post_incident"`

	// UIT assigned by the authority after a successful notification.
	UIT *string `json:"uit,omitempty" db:"uit"`

	VehicleNumber      string     `json:"vehicle_number" db:"vehicle_number"`
	Trailer1           string     `json:"trailer1" db:"trailer1"`
	Trailer2           string     `json:"trailer2" db:"trailer2"`
	TransporterCountry string     `json:"transporter_country" db:"transporter_country"`
	TransporterCode    string     `json:"transporter_code" db:"transporter_code"`
	TransporterName    string     `json:"transporter_name" db:"transporter_name"`
	TransportDate      *time.Time `json:"transport_date,omitempty" db:"transport_date"`

	Partner    *Party             `json:"partner,omitempty"`
	Lines      []TransportLine    `json:"lines,omitempty"`
	RouteStart TransportLocation  `json:"route_start"`
	RouteEnd   TransportLocation  `json:"route_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TransportLine is one goods row of a transport declaration.
type TransportLine struct {
	Description     string          `json:"description"`
	TariffCode      string          `json:"tariff_code"`
	PurposeCode     int             `json:"purpose_code"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCode        string          `json:"unit_code"`
	NetWeight       decimal.Decimal `json:"net_weight"`
	GrossWeight     decimal.Decimal `json:"gross_weight"`
	ValueWithoutVAT decimal.Decimal `json:"value_without_vat"`
}

// TransportLocation is one end of the declared road route.
type TransportLocation struct {
	County     string `json:"county"`
	Locality   string `json:"locality"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	PostalCode string `json:"postal_code"`
	OtherInfo  string `json:"other_info"`
}
