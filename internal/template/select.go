package template

import (
	"context"

	"github.com/pitabwire/onboard/model"
)

// Lister lists templates of a type, newest first.
type Lister interface {
	ListByType(ctx context.Context, tt model.TemplateType) ([]model.Template, error)
}

// DefaultContract is used when no contract template has been configured.
const DefaultContract = `CONTRACTOR AGREEMENT

This agreement is made on {{contract_date}} between {{third_party_name}} ({{business_type}}) and {{full_name}} of {{nationality}}.

1. Engagement. The contractor is engaged as {{job_title}} for {{client_name}} in {{country}}, starting {{start_date}} and ending {{end_date}}.

2. Compensation. The contractor will be paid {{rate}} {{currency}}.

3. Contact. Notices to the contractor are sent to {{email}} / {{phone}}.

Signed by {{signature_name}} on {{signed_date}}.
`

// Pick chooses among candidates (newest first) the template for country: a
// template scoped to country wins over an unscoped one. Templates scoped to
// another country never apply.
func Pick(candidates []model.Template, country model.Country) (model.Template, bool) {
	var fallback *model.Template
	for i := range candidates {
		t := candidates[i]
		switch {
		case t.Country == country && country != "":
			return t, true
		case t.Country == "" && fallback == nil:
			fallback = &candidates[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return model.Template{}, false
}

// ContractContent returns the unsubstituted contract text that applies to a
// third party in country, falling back to DefaultContract.
func ContractContent(ctx context.Context, templates Lister, country model.Country) (string, error) {
	candidates, err := templates.ListByType(ctx, model.TemplateContract)
	if err != nil {
		return "", err
	}
	if t, ok := Pick(candidates, country); ok {
		return t.Content, nil
	}
	return DefaultContract, nil
}
