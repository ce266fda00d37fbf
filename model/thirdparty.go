package model

import "time"

// Country is where a third party operates.
type Country string

const (
	CountrySaudiArabia Country = "Saudi Arabia"
	CountryUAE         Country = "UAE"
	CountryQatar       Country = "Qatar"
)

// Valid reports whether c is a supported country.
func (c Country) Valid() bool {
	switch c {
	case CountrySaudiArabia, CountryUAE, CountryQatar:
		return true
	}
	return false
}

// BusinessType selects the document and workflow policy applied to every
// contractor placed under a third party.
type BusinessType string

const (
	BusinessPerm    BusinessType = "3rd_party_perm"
	BusinessSaudi   BusinessType = "3rd_party_saudi"
	BusinessUAE     BusinessType = "3rd_party_uae"
	BusinessPayroll BusinessType = "3rd_party_payroll"
)

// BusinessTypes lists every business type in a stable order.
var BusinessTypes = []BusinessType{BusinessPerm, BusinessSaudi, BusinessUAE, BusinessPayroll}

// Valid reports whether b is a known business type.
func (b BusinessType) Valid() bool {
	switch b {
	case BusinessPerm, BusinessSaudi, BusinessUAE, BusinessPayroll:
		return true
	}
	return false
}

// ThirdParty is an intermediary organization contractors are placed under.
// Third parties are deactivated, never hard-deleted while referenced.
type ThirdParty struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Country      Country      `json:"country"`
	BusinessType BusinessType `json:"business_type"`
	ContactEmail string       `json:"contact_email,omitempty"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
