package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/policy"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

// Details is the editable personal, placement and financial data of a
// draft contractor.
type Details struct {
	FirstName   string     `json:"first_name" validate:"required,max=100"`
	LastName    string     `json:"last_name" validate:"required,max=100"`
	Email       string     `json:"email" validate:"required,email"`
	Phone       string     `json:"phone,omitempty" validate:"omitempty,max=32"`
	Nationality string     `json:"nationality,omitempty" validate:"omitempty,max=100"`
	JobTitle    string     `json:"job_title" validate:"required,max=200"`
	ClientName  string     `json:"client_name,omitempty" validate:"omitempty,max=200"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Rate        string     `json:"rate,omitempty" validate:"omitempty,numeric"`
	Currency    string     `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

func (d Details) checkDates() error {
	if d.StartDate != nil && d.EndDate != nil && !d.StartDate.Before(*d.EndDate) {
		return model.NewFieldValidationError("end_date", "gtfield", "end_date must be after start_date")
	}
	return nil
}

func (d Details) apply(c *model.Contractor) {
	c.Personal = model.PersonalDetails{
		FirstName:   strings.TrimSpace(d.FirstName),
		LastName:    strings.TrimSpace(d.LastName),
		Email:       strings.TrimSpace(d.Email),
		Phone:       d.Phone,
		Nationality: d.Nationality,
	}
	c.Placement = model.PlacementDetails{
		JobTitle:   strings.TrimSpace(d.JobTitle),
		ClientName: d.ClientName,
		StartDate:  d.StartDate,
		EndDate:    d.EndDate,
	}
	c.Financial = model.FinancialDetails{
		Rate:     d.Rate,
		Currency: strings.ToUpper(d.Currency),
	}
}

// NewContractor is the input of CreateContractor.
type NewContractor struct {
	ThirdPartyID string `json:"third_party_id" validate:"required"`
	Details
}

// CreateContractor creates a draft contractor under an active third party.
// The current step is the first step of the third party's workflow.
func (s *Service) CreateContractor(ctx context.Context, in NewContractor, actorID string) (model.Contractor, error) {
	if err := Validate(in); err != nil {
		return model.Contractor{}, err
	}
	if err := in.checkDates(); err != nil {
		return model.Contractor{}, err
	}

	tp, err := s.thirdParties.Get(ctx, in.ThirdPartyID)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.Contractor{}, model.NewFieldValidationError("third_party_id", "exists", "third party does not exist")
		}
		return model.Contractor{}, err
	}
	if !tp.IsActive {
		return model.Contractor{}, model.NewInvalidStateError(
			fmt.Sprintf("third party %q is inactive, new contractors cannot be placed under it", tp.ID),
		)
	}

	now := s.now().UTC()
	c := model.Contractor{
		ID:             s.newID(),
		ThirdPartyID:   tp.ID,
		Status:         model.StatusDraft,
		CompletedSteps: []string{},
		CurrentStepID:  workflow.FirstStep(tp.BusinessType),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	in.Details.apply(&c)

	events := []model.ContractorEvent{store.NewEvent(&c, model.EventCreated, "", actorID, now)}
	if err := s.contractors.Create(ctx, c, events...); err != nil {
		return model.Contractor{}, err
	}
	s.observe(ctx, events)

	s.logger.Info("contractor created",
		zap.String("contractor_id", c.ID),
		zap.String("third_party_id", tp.ID),
		zap.String("business_type", string(tp.BusinessType)),
	)
	return c, nil
}

// GetContractor returns a contractor by id.
func (s *Service) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
	return s.contractors.Get(ctx, id)
}

// UpdateDetails replaces the details of a draft contractor.
func (s *Service) UpdateDetails(ctx context.Context, id string, in Details, actorID string) (model.Contractor, error) {
	if err := Validate(in); err != nil {
		return model.Contractor{}, err
	}
	if err := in.checkDates(); err != nil {
		return model.Contractor{}, err
	}

	var events []model.ContractorEvent
	updated, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, id),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			if c.Status != model.StatusDraft {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s, details can only be edited while draft", c.ID, c.Status),
				)
			}
			in.apply(c)
			events = []model.ContractorEvent{
				store.NewEvent(c, model.EventDetailsUpdated, c.Status, actorID, s.now().UTC()),
			}
			return events, nil
		})
	if err != nil {
		return model.Contractor{}, err
	}
	s.observe(ctx, events)
	return updated, nil
}

// AttachDocument records an uploaded document reference. Documents can be
// attached while the contractor is draft or waiting for signature; a second
// upload of the same kind replaces the first.
func (s *Service) AttachDocument(ctx context.Context, id string, kind model.DocumentKind, reference, actorID string) (model.Contractor, error) {
	if !kind.Valid() {
		return model.Contractor{}, model.NewFieldValidationError("kind", "oneof", fmt.Sprintf("unknown document kind %q", kind))
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return model.Contractor{}, model.NewFieldValidationError("reference", "required", "reference is required")
	}

	var events []model.ContractorEvent
	updated, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, id),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			if c.Status != model.StatusDraft && c.Status != model.StatusPendingSignature {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s, documents can no longer be attached", c.ID, c.Status),
				)
			}
			now := s.now().UTC()
			if c.Documents == nil {
				c.Documents = make(map[model.DocumentKind]model.DocumentRef)
			}
			c.Documents[kind] = model.DocumentRef{Reference: reference, UploadedAt: now, UploadedBy: actorID}

			e := store.NewEvent(c, model.EventDocumentAttached, c.Status, actorID, now)
			e.Comment = string(kind)
			events = []model.ContractorEvent{e}
			return events, nil
		})
	if err != nil {
		return model.Contractor{}, err
	}
	s.observe(ctx, events)
	return updated, nil
}

// Steps completed by another operation rather than by CompleteStep.
var completedElsewhere = map[string]string{
	workflow.StepContractGeneration: "sending the contract",
	workflow.StepAdminApproval:      "activation",
}

// CompleteStep advances a draft contractor past its current admin step once
// the step's required data is present.
func (s *Service) CompleteStep(ctx context.Context, id, stepID, actorID string) (model.Contractor, error) {
	var events []model.ContractorEvent
	updated, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, id),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			tp, err := s.thirdParties.Get(ctx, c.ThirdPartyID)
			if err != nil {
				return nil, err
			}
			step, ok := workflow.FindStep(tp.BusinessType, stepID)
			if !ok {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("step %q is not part of the %s workflow", stepID, tp.BusinessType),
				)
			}
			if by, ok := completedElsewhere[stepID]; ok {
				return nil, model.NewInvalidStateError(fmt.Sprintf("step %q is completed by %s", stepID, by))
			}
			if step.Role != model.RoleAdmin {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("step %q is performed by the %s, not an admin", stepID, step.Role),
				)
			}
			if c.Status != model.StatusDraft {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s, workflow steps can only be completed while draft", c.ID, c.Status),
				)
			}
			if stepID != c.CurrentStepID {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("step %q is not the current step (current: %q)", stepID, c.CurrentStepID),
				)
			}
			if missing := MissingFor(c, tp.BusinessType, stepID); len(missing) > 0 {
				return nil, model.NewValidationError(missing)
			}

			workflow.Advance(c, tp.BusinessType, stepID)
			e := store.NewEvent(c, model.EventStepCompleted, c.Status, actorID, s.now().UTC())
			e.StepID = stepID
			events = []model.ContractorEvent{e}
			return events, nil
		})
	if err != nil {
		return model.Contractor{}, err
	}
	s.observe(ctx, events)

	s.logger.Info("workflow step completed",
		zap.String("contractor_id", updated.ID),
		zap.String("step_id", stepID),
		zap.String("current_step_id", updated.CurrentStepID),
	)
	return updated, nil
}

// MissingFor lists the data c still lacks before stepID can be completed.
func MissingFor(c *model.Contractor, bt model.BusinessType, stepID string) []model.FieldError {
	var missing []model.FieldError
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, model.FieldError{Field: field, Code: "required", Message: field + " is required"})
		}
	}
	requireDoc := func(kind model.DocumentKind) {
		if _, ok := c.Documents[kind]; !ok {
			missing = append(missing, model.FieldError{
				Field:   "documents." + string(kind),
				Code:    "required",
				Message: string(kind) + " document is required",
			})
		}
	}

	switch stepID {
	case workflow.StepContractorDetails:
		require("first_name", c.Personal.FirstName)
		require("last_name", c.Personal.LastName)
		require("email", c.Personal.Email)
		require("job_title", c.Placement.JobTitle)
	case workflow.StepDocumentUpload:
		for _, kind := range policy.RequiredDocuments(bt) {
			requireDoc(kind)
		}
	case workflow.StepQuoteSheets, workflow.StepCOHF, workflow.StepScheduleForm:
		if kind, ok := policy.VariantDocument(bt); ok {
			requireDoc(kind)
		}
	}
	return missing
}

// Progress returns the workflow progress view of a contractor.
func (s *Service) Progress(ctx context.Context, id string) (model.WorkflowProgress, error) {
	c, err := s.contractors.Get(ctx, id)
	if err != nil {
		return model.WorkflowProgress{}, err
	}
	tp, err := s.thirdParties.Get(ctx, c.ThirdPartyID)
	if err != nil {
		return model.WorkflowProgress{}, err
	}
	return workflow.Progress(c, tp.BusinessType), nil
}

// Events returns the audit trail of a contractor.
func (s *Service) Events(ctx context.Context, id string) ([]model.ContractorEvent, error) {
	if _, err := s.contractors.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.contractors.Events(ctx, id)
}
