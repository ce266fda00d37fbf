package model

import "time"

// TemplateType is the kind of document a template produces.
type TemplateType string

const (
	TemplateContract     TemplateType = "contract"
	TemplateCDS          TemplateType = "cds"
	TemplateCostingSheet TemplateType = "costing_sheet"
	TemplateWorkOrder    TemplateType = "work_order"
	TemplateProposal     TemplateType = "proposal"
	TemplateCOHF         TemplateType = "cohf"
	TemplateScheduleForm TemplateType = "schedule_form"
	TemplateQuoteSheet   TemplateType = "quote_sheet"
)

// Valid reports whether t is a known template type.
func (t TemplateType) Valid() bool {
	switch t {
	case TemplateContract, TemplateCDS, TemplateCostingSheet, TemplateWorkOrder,
		TemplateProposal, TemplateCOHF, TemplateScheduleForm, TemplateQuoteSheet:
		return true
	}
	return false
}

// Template is a named document blueprint. Content contains {{field_name}}
// placeholders. An empty Country applies to every country.
type Template struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      TemplateType `json:"template_type"`
	Content   string       `json:"content"`
	Country   Country      `json:"country,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
