package policy

import (
	"testing"

	"github.com/pitabwire/onboard/model"
)

func TestFor_exactlyOneRequirement(t *testing.T) {
	for _, bt := range model.BusinessTypes {
		t.Run(string(bt), func(t *testing.T) {
			p := For(bt)
			count := 0
			for _, b := range []bool{p.RequiresQuoteSheets, p.RequiresCOHF, p.RequiresScheduleForm} {
				if b {
					count++
				}
			}
			want := 1
			if bt == model.BusinessPerm {
				want = 0
			}
			if count != want {
				t.Errorf("requirements set = %d, want %d (%+v)", count, want, p)
			}
			if p.Label == "" || p.WorkflowDescription == "" {
				t.Errorf("label/description empty: %+v", p)
			}
			if p.BusinessType != bt {
				t.Errorf("BusinessType = %q, want %q", p.BusinessType, bt)
			}
		})
	}
}

func TestFor_variants(t *testing.T) {
	if !For(model.BusinessSaudi).RequiresQuoteSheets {
		t.Error("saudi should require quote sheets")
	}
	if !For(model.BusinessUAE).RequiresCOHF {
		t.Error("uae should require COHF")
	}
	if !For(model.BusinessPayroll).RequiresScheduleForm {
		t.Error("payroll should require schedule form")
	}
}

func TestFor_unknownPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("For(unknown) did not panic")
		}
	}()
	For(model.BusinessType("3rd_party_mystery"))
}

func TestRequiredDocuments_alwaysPassport(t *testing.T) {
	for _, bt := range model.BusinessTypes {
		docs := RequiredDocuments(bt)
		found := false
		for _, d := range docs {
			if d == model.DocPassport {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: passport not required", bt)
		}
	}
}

func TestVariantDocument(t *testing.T) {
	tests := []struct {
		bt     model.BusinessType
		want   model.DocumentKind
		wantOK bool
	}{
		{model.BusinessPerm, "", false},
		{model.BusinessSaudi, model.DocQuoteSheet, true},
		{model.BusinessUAE, model.DocCOHF, true},
		{model.BusinessPayroll, model.DocScheduleForm, true},
	}
	for _, tt := range tests {
		got, ok := VariantDocument(tt.bt)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("VariantDocument(%s) = (%q, %v), want (%q, %v)", tt.bt, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCountryAllowed(t *testing.T) {
	tests := []struct {
		country model.Country
		bt      model.BusinessType
		want    bool
	}{
		{model.CountrySaudiArabia, model.BusinessSaudi, true},
		{model.CountryQatar, model.BusinessSaudi, false},
		{model.CountryUAE, model.BusinessUAE, true},
		{model.CountrySaudiArabia, model.BusinessUAE, false},
		{model.CountryQatar, model.BusinessPerm, true},
		{model.CountryQatar, model.BusinessPayroll, true},
		{model.Country("Oman"), model.BusinessPerm, false},
		{model.CountryUAE, model.BusinessType("bogus"), false},
	}
	for _, tt := range tests {
		if got := CountryAllowed(tt.country, tt.bt); got != tt.want {
			t.Errorf("CountryAllowed(%q, %q) = %v, want %v", tt.country, tt.bt, got, tt.want)
		}
	}
}
