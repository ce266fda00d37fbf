// Package policy maps a third party's business type to the document set and
// workflow variant it imposes on contractors.
package policy

import (
	"fmt"

	"github.com/pitabwire/onboard/model"
)

// Policy is the static onboarding policy of one business type.
type Policy struct {
	BusinessType         model.BusinessType `json:"business_type"`
	Label                string             `json:"label"`
	WorkflowDescription  string             `json:"workflow_description"`
	RequiresQuoteSheets  bool               `json:"requires_quote_sheets"`
	RequiresCOHF         bool               `json:"requires_cohf"`
	RequiresScheduleForm bool               `json:"requires_schedule_form"`
}

// For returns the policy for bt. An unknown business type is a programming
// error and panics; validate external input with model.BusinessType.Valid
// first.
func For(bt model.BusinessType) Policy {
	switch bt {
	case model.BusinessPerm:
		return Policy{
			BusinessType:        bt,
			Label:               "3rd Party - Permanent",
			WorkflowDescription: "Permanent placement: contractor details, documents, contract signature, approval and activation.",
		}
	case model.BusinessSaudi:
		return Policy{
			BusinessType:        bt,
			Label:               "3rd Party - Saudi",
			WorkflowDescription: "Saudi placement: quote sheets are prepared and approved before the contract is generated.",
			RequiresQuoteSheets: true,
		}
	case model.BusinessUAE:
		return Policy{
			BusinessType:        bt,
			Label:               "3rd Party - UAE",
			WorkflowDescription: "UAE placement: the COHF must be completed before the contract is generated.",
			RequiresCOHF:        true,
		}
	case model.BusinessPayroll:
		return Policy{
			BusinessType:         bt,
			Label:                "3rd Party - Payroll",
			WorkflowDescription:  "Payroll placement: the schedule form must be completed before the contract is generated.",
			RequiresScheduleForm: true,
		}
	}
	panic(fmt.Sprintf("policy: unknown business type %q", bt))
}

// RequiredDocuments returns the documents that must be attached before the
// document-upload step can be completed. The variant document (quote sheet,
// COHF or schedule form) is gated by its own step, not by this list.
func RequiredDocuments(bt model.BusinessType) []model.DocumentKind {
	switch bt {
	case model.BusinessPerm:
		return []model.DocumentKind{model.DocPassport, model.DocCV}
	case model.BusinessSaudi, model.BusinessUAE:
		return []model.DocumentKind{model.DocPassport, model.DocCV, model.DocVisa}
	case model.BusinessPayroll:
		return []model.DocumentKind{model.DocPassport, model.DocCV, model.DocNationalID}
	}
	panic(fmt.Sprintf("policy: unknown business type %q", bt))
}

// VariantDocument returns the extra document the business type requires, if
// any.
func VariantDocument(bt model.BusinessType) (model.DocumentKind, bool) {
	p := For(bt)
	switch {
	case p.RequiresQuoteSheets:
		return model.DocQuoteSheet, true
	case p.RequiresCOHF:
		return model.DocCOHF, true
	case p.RequiresScheduleForm:
		return model.DocScheduleForm, true
	}
	return "", false
}

// CountryAllowed reports whether a third party in country may use bt.
// Country-bound business types only pair with their own country.
func CountryAllowed(country model.Country, bt model.BusinessType) bool {
	switch bt {
	case model.BusinessSaudi:
		return country == model.CountrySaudiArabia
	case model.BusinessUAE:
		return country == model.CountryUAE
	case model.BusinessPerm, model.BusinessPayroll:
		return country.Valid()
	}
	return false
}
