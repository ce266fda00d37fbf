package model

// StepRole is who performs a workflow step.
type StepRole string

const (
	RoleAdmin      StepRole = "admin"
	RoleContractor StepRole = "contractor"
	RoleSystem     StepRole = "system"
)

// StepStatus is the display status of a step for one contractor.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepCurrent   StepStatus = "current"
	StepPending   StepStatus = "pending"
)

// WorkflowStep is a derived, never persisted step definition.
type WorkflowStep struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Role        StepRole `json:"role"`
}

// StepProgress pairs a step with its status for a contractor.
type StepProgress struct {
	WorkflowStep
	Status StepStatus `json:"status"`
}

// WorkflowProgress is the onboarding progress view of a contractor.
type WorkflowProgress struct {
	ContractorID  string           `json:"contractor_id"`
	BusinessType  BusinessType     `json:"business_type"`
	Label         string           `json:"label"`
	Description   string           `json:"description"`
	Status        ContractorStatus `json:"status"`
	CurrentStepID string           `json:"current_step_id,omitempty"`
	Steps         []StepProgress   `json:"steps"`
}
