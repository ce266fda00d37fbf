package workflow

import (
	"reflect"
	"testing"

	"github.com/pitabwire/onboard/model"
)

func stepIDs(steps []model.WorkflowStep) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func TestSteps_variants(t *testing.T) {
	tests := []struct {
		bt   model.BusinessType
		want []string
	}{
		{model.BusinessPerm, []string{
			StepContractorDetails, StepDocumentUpload, StepContractGeneration,
			StepContractSignature, StepAdminApproval, StepAccountActivation,
		}},
		{model.BusinessSaudi, []string{
			StepContractorDetails, StepDocumentUpload, StepQuoteSheets, StepContractGeneration,
			StepContractSignature, StepAdminApproval, StepAccountActivation,
		}},
		{model.BusinessUAE, []string{
			StepContractorDetails, StepDocumentUpload, StepCOHF, StepContractGeneration,
			StepContractSignature, StepAdminApproval, StepAccountActivation,
		}},
		{model.BusinessPayroll, []string{
			StepContractorDetails, StepDocumentUpload, StepScheduleForm, StepContractGeneration,
			StepContractSignature, StepAdminApproval, StepAccountActivation,
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.bt), func(t *testing.T) {
			got := stepIDs(Steps(tt.bt))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Steps(%s) = %v, want %v", tt.bt, got, tt.want)
			}
		})
	}
}

func TestSteps_deterministic(t *testing.T) {
	for _, bt := range model.BusinessTypes {
		first := Steps(bt)
		second := Steps(bt)
		if len(first) == 0 {
			t.Fatalf("%s: empty workflow", bt)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: Steps not deterministic", bt)
		}
		// Mutating one result must not leak into the next call.
		first[0].Label = "changed"
		if Steps(bt)[0].Label == "changed" {
			t.Errorf("%s: Steps shares backing storage", bt)
		}
	}
}

func TestSteps_roles(t *testing.T) {
	for _, s := range Steps(model.BusinessSaudi) {
		want := model.RoleAdmin
		switch s.ID {
		case StepContractSignature:
			want = model.RoleContractor
		case StepAccountActivation:
			want = model.RoleSystem
		}
		if s.Role != want {
			t.Errorf("step %s role = %s, want %s", s.ID, s.Role, want)
		}
	}
}

func TestStepStatusOf(t *testing.T) {
	completed := []string{StepContractorDetails}
	tests := []struct {
		step    string
		current string
		want    model.StepStatus
	}{
		{StepContractorDetails, StepDocumentUpload, model.StepCompleted},
		{StepContractorDetails, StepContractorDetails, model.StepCompleted},
		{StepDocumentUpload, StepDocumentUpload, model.StepCurrent},
		{StepContractGeneration, StepDocumentUpload, model.StepPending},
		{StepDocumentUpload, "", model.StepPending},
	}
	for _, tt := range tests {
		if got := StepStatusOf(tt.step, completed, tt.current); got != tt.want {
			t.Errorf("StepStatusOf(%s, current=%s) = %s, want %s", tt.step, tt.current, got, tt.want)
		}
	}
}

func TestProgress_orphanedCurrentStep(t *testing.T) {
	c := model.Contractor{
		ID:             "c1",
		Status:         model.StatusDraft,
		CompletedSteps: []string{StepContractorDetails},
		CurrentStepID:  StepQuoteSheets, // not in the perm workflow
	}
	p := Progress(c, model.BusinessPerm)
	for _, s := range p.Steps {
		if s.Status == model.StepCurrent {
			t.Errorf("step %s marked current for orphaned pointer", s.ID)
		}
	}
	if p.Steps[0].Status != model.StepCompleted {
		t.Errorf("first step status = %s, want completed", p.Steps[0].Status)
	}
	if p.Label == "" {
		t.Error("progress label empty")
	}
}

func TestProgress_atMostOneCurrent(t *testing.T) {
	c := model.Contractor{CurrentStepID: StepCOHF, CompletedSteps: []string{StepContractorDetails, StepDocumentUpload}}
	p := Progress(c, model.BusinessUAE)
	current := 0
	for _, s := range p.Steps {
		if s.Status == model.StepCurrent {
			current++
		}
	}
	if current != 1 {
		t.Errorf("current steps = %d, want 1", current)
	}
}

func TestAdvance(t *testing.T) {
	c := model.Contractor{CurrentStepID: FirstStep(model.BusinessPerm)}

	added := Advance(&c, model.BusinessPerm, StepContractorDetails)
	if !reflect.DeepEqual(added, []string{StepContractorDetails}) {
		t.Errorf("added = %v", added)
	}
	if c.CurrentStepID != StepDocumentUpload {
		t.Errorf("CurrentStepID = %s, want %s", c.CurrentStepID, StepDocumentUpload)
	}

	// Re-completing and orphan ids are no-ops.
	added = Advance(&c, model.BusinessPerm, StepContractorDetails, StepCOHF)
	if len(added) != 0 {
		t.Errorf("added = %v, want none", added)
	}
	if len(c.CompletedSteps) != 1 {
		t.Errorf("CompletedSteps = %v", c.CompletedSteps)
	}

	// Completed ids are recorded in workflow order.
	Advance(&c, model.BusinessPerm, StepAccountActivation, StepAdminApproval)
	want := []string{StepContractorDetails, StepAdminApproval, StepAccountActivation}
	if !reflect.DeepEqual(c.CompletedSteps, want) {
		t.Errorf("CompletedSteps = %v, want %v", c.CompletedSteps, want)
	}
	if c.CurrentStepID != StepDocumentUpload {
		t.Errorf("CurrentStepID = %s, want %s", c.CurrentStepID, StepDocumentUpload)
	}
}

func TestAdvance_allDone(t *testing.T) {
	c := model.Contractor{}
	all := stepIDs(Steps(model.BusinessPayroll))
	Advance(&c, model.BusinessPayroll, all...)
	if c.CurrentStepID != "" {
		t.Errorf("CurrentStepID = %q, want empty", c.CurrentStepID)
	}
}

func TestFindStep(t *testing.T) {
	if _, ok := FindStep(model.BusinessSaudi, StepQuoteSheets); !ok {
		t.Error("quote_sheets not found in saudi workflow")
	}
	if _, ok := FindStep(model.BusinessPerm, StepQuoteSheets); ok {
		t.Error("quote_sheets found in perm workflow")
	}
}

func TestOutstandingBefore(t *testing.T) {
	tests := []struct {
		name      string
		bt        model.BusinessType
		completed []string
		stepID    string
		want      []string
	}{
		{"fresh uae", model.BusinessUAE, nil, StepContractGeneration, []string{StepContractorDetails, StepDocumentUpload, StepCOHF}},
		{"variant open", model.BusinessSaudi, []string{StepContractorDetails, StepDocumentUpload}, StepContractGeneration, []string{StepQuoteSheets}},
		{"ready perm", model.BusinessPerm, []string{StepContractorDetails, StepDocumentUpload}, StepContractGeneration, nil},
		{"first step", model.BusinessPerm, nil, StepContractorDetails, nil},
		{"step not in workflow", model.BusinessPerm, nil, StepCOHF, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OutstandingBefore(tt.bt, tt.completed, tt.stepID)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("OutstandingBefore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.ContractorStatus
		want     bool
	}{
		{model.StatusDraft, model.StatusPendingSignature, true},
		{model.StatusDraft, model.StatusSigned, false},
		{model.StatusDraft, model.StatusSuspended, false},
		{model.StatusPendingSignature, model.StatusPendingSignature, true},
		{model.StatusPendingSignature, model.StatusSigned, true},
		{model.StatusPendingSignature, model.StatusActive, false},
		{model.StatusPendingSignature, model.StatusSuspended, true},
		{model.StatusSigned, model.StatusActive, true},
		{model.StatusSigned, model.StatusPendingSignature, false},
		{model.StatusSigned, model.StatusSuspended, true},
		{model.StatusActive, model.StatusSuspended, true},
		{model.StatusActive, model.StatusSigned, false},
		{model.StatusSuspended, model.StatusActive, false},
		{model.StatusSuspended, model.StatusDraft, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
