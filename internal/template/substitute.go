// Package template fills document templates with contractor data and picks
// the template that applies to a contractor.
package template

import (
	"regexp"
	"strings"
	"time"

	"github.com/pitabwire/onboard/internal/policy"
	"github.com/pitabwire/onboard/model"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Placeholders is the catalogue of recognized placeholder names.
var Placeholders = []string{
	"first_name",
	"last_name",
	"full_name",
	"email",
	"phone",
	"nationality",
	"job_title",
	"client_name",
	"start_date",
	"end_date",
	"rate",
	"currency",
	"third_party_name",
	"country",
	"business_type",
	"contract_date",
	"signature_name",
	"signed_date",
}

var recognized = func() map[string]bool {
	m := make(map[string]bool, len(Placeholders))
	for _, p := range Placeholders {
		m[p] = true
	}
	return m
}()

// Substitute replaces every recognized {{field}} in content with its value
// from fields, or with a bracketed fallback such as [Job Title] when the
// value is missing or empty. Unrecognized placeholders are left untouched.
func Substitute(content string, fields map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if !recognized[name] {
			return m
		}
		if v := fields[name]; v != "" {
			return v
		}
		return Fallback(name)
	})
}

// Fallback returns the bracketed title-case form of a placeholder name.
func Fallback(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return "[" + strings.Join(words, " ") + "]"
}

const dateLayout = "2006-01-02"

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

// FieldValues builds the placeholder values for a contractor placed under
// tp. contractDate is used for contract_date. Fields without data are
// omitted so Substitute renders their fallback.
func FieldValues(c model.Contractor, tp model.ThirdParty, contractDate time.Time) map[string]string {
	fields := map[string]string{
		"first_name":       c.Personal.FirstName,
		"last_name":        c.Personal.LastName,
		"full_name":        c.Personal.FullName(),
		"email":            c.Personal.Email,
		"phone":            c.Personal.Phone,
		"nationality":      c.Personal.Nationality,
		"job_title":        c.Placement.JobTitle,
		"client_name":      c.Placement.ClientName,
		"start_date":       formatDate(c.Placement.StartDate),
		"end_date":         formatDate(c.Placement.EndDate),
		"rate":             c.Financial.Rate,
		"currency":         c.Financial.Currency,
		"third_party_name": tp.Name,
		"country":          string(tp.Country),
		"contract_date":    contractDate.Format(dateLayout),
		"signed_date":      formatDate(c.SignedDate),
	}
	if tp.BusinessType.Valid() {
		fields["business_type"] = policy.For(tp.BusinessType).Label
	}
	if c.Signature != nil && c.Signature.Type == model.SignatureTyped {
		fields["signature_name"] = c.Signature.Data
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}
