// Package workflow derives the ordered onboarding steps for a business type
// and projects a contractor's progress through them. It holds no state; the
// services that own contractor writes call Advance and CanTransition before
// persisting.
package workflow

import (
	"github.com/pitabwire/onboard/internal/policy"
	"github.com/pitabwire/onboard/model"
)

// Step identifiers.
const (
	StepContractorDetails  = "contractor_details"
	StepDocumentUpload     = "document_upload"
	StepQuoteSheets        = "quote_sheets"
	StepCOHF               = "cohf"
	StepScheduleForm       = "schedule_form"
	StepContractGeneration = "contract_generation"
	StepContractSignature  = "contract_signature"
	StepAdminApproval      = "admin_approval"
	StepAccountActivation  = "account_activation"
)

var (
	detailsStep = model.WorkflowStep{
		ID:          StepContractorDetails,
		Label:       "Contractor details",
		Description: "Capture personal, placement and financial details.",
		Role:        model.RoleAdmin,
	}
	documentsStep = model.WorkflowStep{
		ID:          StepDocumentUpload,
		Label:       "Document upload",
		Description: "Upload identity and supporting documents.",
		Role:        model.RoleAdmin,
	}
	quoteSheetsStep = model.WorkflowStep{
		ID:          StepQuoteSheets,
		Label:       "Quote sheets",
		Description: "Prepare and approve the quote sheets.",
		Role:        model.RoleAdmin,
	}
	cohfStep = model.WorkflowStep{
		ID:          StepCOHF,
		Label:       "COHF",
		Description: "Complete the confirmation of hire form.",
		Role:        model.RoleAdmin,
	}
	scheduleFormStep = model.WorkflowStep{
		ID:          StepScheduleForm,
		Label:       "Schedule form",
		Description: "Complete the payroll schedule form.",
		Role:        model.RoleAdmin,
	}
	generationStep = model.WorkflowStep{
		ID:          StepContractGeneration,
		Label:       "Contract generation",
		Description: "Generate the contract and send the signing link.",
		Role:        model.RoleAdmin,
	}
	signatureStep = model.WorkflowStep{
		ID:          StepContractSignature,
		Label:       "Contract signature",
		Description: "Contractor reviews and signs the contract.",
		Role:        model.RoleContractor,
	}
	approvalStep = model.WorkflowStep{
		ID:          StepAdminApproval,
		Label:       "Admin approval",
		Description: "Review the signed contract and approve the contractor.",
		Role:        model.RoleAdmin,
	}
	activationStep = model.WorkflowStep{
		ID:          StepAccountActivation,
		Label:       "Account activation",
		Description: "Provision login credentials for the contractor.",
		Role:        model.RoleSystem,
	}
)

// Steps returns the ordered workflow for bt. The result is freshly allocated
// on every call and depends only on bt.
func Steps(bt model.BusinessType) []model.WorkflowStep {
	p := policy.For(bt)

	steps := make([]model.WorkflowStep, 0, 8)
	steps = append(steps, detailsStep, documentsStep)
	switch {
	case p.RequiresQuoteSheets:
		steps = append(steps, quoteSheetsStep)
	case p.RequiresCOHF:
		steps = append(steps, cohfStep)
	case p.RequiresScheduleForm:
		steps = append(steps, scheduleFormStep)
	}
	return append(steps, generationStep, signatureStep, approvalStep, activationStep)
}

// FindStep looks up stepID in the workflow for bt.
func FindStep(bt model.BusinessType, stepID string) (model.WorkflowStep, bool) {
	for _, s := range Steps(bt) {
		if s.ID == stepID {
			return s, true
		}
	}
	return model.WorkflowStep{}, false
}

// StepStatusOf projects a single step: completed if listed in completed,
// else current if it is currentStepID, else pending.
func StepStatusOf(stepID string, completed []string, currentStepID string) model.StepStatus {
	for _, c := range completed {
		if c == stepID {
			return model.StepCompleted
		}
	}
	if stepID == currentStepID {
		return model.StepCurrent
	}
	return model.StepPending
}

// FirstStep returns the id of the first step of the workflow for bt.
func FirstStep(bt model.BusinessType) string {
	return Steps(bt)[0].ID
}

// CurrentStepFor returns the first step of bt's workflow that is not in
// completed, or "" once every step is done.
func CurrentStepFor(bt model.BusinessType, completed []string) string {
	for _, s := range Steps(bt) {
		if !contains(completed, s.ID) {
			return s.ID
		}
	}
	return ""
}

// OutstandingBefore returns, in workflow order, the steps of bt that precede
// stepID and are not in completed. It returns nil when stepID is not part of
// the workflow.
func OutstandingBefore(bt model.BusinessType, completed []string, stepID string) []string {
	steps := Steps(bt)
	var out []string
	for _, s := range steps {
		if s.ID == stepID {
			return out
		}
		if !contains(completed, s.ID) {
			out = append(out, s.ID)
		}
	}
	return nil
}

// Progress builds the progress view of c under bt. A CurrentStepID that does
// not belong to the workflow leaves no step current.
func Progress(c model.Contractor, bt model.BusinessType) model.WorkflowProgress {
	p := policy.For(bt)
	steps := Steps(bt)

	out := model.WorkflowProgress{
		ContractorID:  c.ID,
		BusinessType:  bt,
		Label:         p.Label,
		Description:   p.WorkflowDescription,
		Status:        c.Status,
		CurrentStepID: c.CurrentStepID,
		Steps:         make([]model.StepProgress, 0, len(steps)),
	}
	for _, s := range steps {
		out.Steps = append(out.Steps, model.StepProgress{
			WorkflowStep: s,
			Status:       StepStatusOf(s.ID, c.CompletedSteps, c.CurrentStepID),
		})
	}
	return out
}

// Advance marks stepIDs completed on c and moves CurrentStepID to the next
// outstanding step. Ids that are not part of bt's workflow are ignored. It
// returns the ids that were newly completed, in workflow order.
func Advance(c *model.Contractor, bt model.BusinessType, stepIDs ...string) []string {
	var added []string
	for _, s := range Steps(bt) {
		if !contains(stepIDs, s.ID) || contains(c.CompletedSteps, s.ID) {
			continue
		}
		c.CompletedSteps = append(c.CompletedSteps, s.ID)
		added = append(added, s.ID)
	}
	c.CurrentStepID = CurrentStepFor(bt, c.CompletedSteps)
	return added
}

// transitions lists the legal status changes. The only self-loop is the
// resend of a pending contract.
var transitions = map[model.ContractorStatus][]model.ContractorStatus{
	model.StatusDraft:            {model.StatusPendingSignature},
	model.StatusPendingSignature: {model.StatusPendingSignature, model.StatusSigned, model.StatusSuspended},
	model.StatusSigned:           {model.StatusActive, model.StatusSuspended},
	model.StatusActive:           {model.StatusSuspended},
}

// CanTransition reports whether a contractor may move from one status to
// another.
func CanTransition(from, to model.ContractorStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
