package model

import "time"

// ContractorStatus is the lifecycle status of a contractor record.
type ContractorStatus string

// Contractor lifecycle. The order is draft, pending_signature, signed,
// active; suspended is reachable from any post-draft status.
const (
	StatusDraft            ContractorStatus = "draft"
	StatusPendingSignature ContractorStatus = "pending_signature"
	StatusSigned           ContractorStatus = "signed"
	StatusActive           ContractorStatus = "active"
	StatusSuspended        ContractorStatus = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s ContractorStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingSignature, StatusSigned, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// SignatureType is how a contractor captured their signature.
type SignatureType string

const (
	SignatureTyped SignatureType = "typed"
	SignatureDrawn SignatureType = "drawn"
)

// Signature is the legal record of intent. It is set exactly once.
type Signature struct {
	Type        SignatureType `json:"type"`
	Data        string        `json:"data"`
	SignedAt    time.Time     `json:"signed_at"`
	SignerIP    string        `json:"signer_ip,omitempty"`
	SignerAgent string        `json:"signer_agent,omitempty"`
}

// DocumentKind is the closed set of documents that can be attached to a
// contractor during onboarding.
type DocumentKind string

const (
	DocPassport     DocumentKind = "passport"
	DocVisa         DocumentKind = "visa"
	DocCV           DocumentKind = "cv"
	DocNationalID   DocumentKind = "national_id"
	DocQuoteSheet   DocumentKind = "quote_sheet"
	DocCOHF         DocumentKind = "cohf"
	DocScheduleForm DocumentKind = "schedule_form"
)

// Valid reports whether k is a known document kind.
func (k DocumentKind) Valid() bool {
	switch k {
	case DocPassport, DocVisa, DocCV, DocNationalID, DocQuoteSheet, DocCOHF, DocScheduleForm:
		return true
	}
	return false
}

// DocumentRef points at an uploaded document.
type DocumentRef struct {
	Reference  string    `json:"reference"`
	UploadedAt time.Time `json:"uploaded_at"`
	UploadedBy string    `json:"uploaded_by"`
}

// PersonalDetails holds the contractor's identity data.
type PersonalDetails struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Nationality string `json:"nationality,omitempty"`
}

// FullName joins first and last name.
func (p PersonalDetails) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// PlacementDetails describes where and when the contractor works.
type PlacementDetails struct {
	JobTitle   string     `json:"job_title"`
	ClientName string     `json:"client_name,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// FinancialDetails describes the contractor's rate.
type FinancialDetails struct {
	Rate     string `json:"rate,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Contractor is the central onboarding record.
//
// ContractToken and TokenExpiry are both set or both nil. Signature is only
// present once the status has reached signed. SentDate, SignedDate and
// ActivatedDate are each written at most once.
type Contractor struct {
	ID           string           `json:"id"`
	ThirdPartyID string           `json:"third_party_id"`
	Status       ContractorStatus `json:"status"`

	Personal  PersonalDetails  `json:"personal"`
	Placement PlacementDetails `json:"placement"`
	Financial FinancialDetails `json:"financial"`

	Documents      map[DocumentKind]DocumentRef `json:"documents,omitempty"`
	CompletedSteps []string                     `json:"completed_steps"`
	CurrentStepID  string                       `json:"current_step_id,omitempty"`

	ContractToken string     `json:"-"`
	TokenExpiry   *time.Time `json:"token_expiry,omitempty"`

	Signature       *Signature `json:"signature,omitempty"`
	ContractContent string     `json:"contract_content,omitempty"`
	DocumentURL     string     `json:"document_url,omitempty"`

	SentDate         *time.Time `json:"sent_date,omitempty"`
	SignedDate       *time.Time `json:"signed_date,omitempty"`
	ActivatedDate    *time.Time `json:"activated_date,omitempty"`
	SuspendedDate    *time.Time `json:"suspended_date,omitempty"`
	SuspensionReason string     `json:"suspension_reason,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasToken reports whether a signing session is outstanding.
func (c *Contractor) HasToken() bool {
	return c.ContractToken != ""
}

// SetToken sets the token and its expiry together.
func (c *Contractor) SetToken(token string, expiry time.Time) {
	c.ContractToken = token
	c.TokenExpiry = &expiry
}

// ClearToken removes the token and its expiry together.
func (c *Contractor) ClearToken() {
	c.ContractToken = ""
	c.TokenExpiry = nil
}

// HasCompleted reports whether stepID is in CompletedSteps.
func (c *Contractor) HasCompleted(stepID string) bool {
	for _, s := range c.CompletedSteps {
		if s == stepID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate it without affecting the
// stored record.
func (c Contractor) Clone() Contractor {
	out := c
	if c.Documents != nil {
		out.Documents = make(map[DocumentKind]DocumentRef, len(c.Documents))
		for k, v := range c.Documents {
			out.Documents[k] = v
		}
	}
	if c.CompletedSteps != nil {
		out.CompletedSteps = append([]string(nil), c.CompletedSteps...)
	}
	if c.Signature != nil {
		sig := *c.Signature
		out.Signature = &sig
	}
	out.TokenExpiry = cloneTime(c.TokenExpiry)
	out.SentDate = cloneTime(c.SentDate)
	out.SignedDate = cloneTime(c.SignedDate)
	out.ActivatedDate = cloneTime(c.ActivatedDate)
	out.SuspendedDate = cloneTime(c.SuspendedDate)
	out.Placement.StartDate = cloneTime(c.Placement.StartDate)
	out.Placement.EndDate = cloneTime(c.Placement.EndDate)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Actor id used for transitions performed by the service itself.
const ActorSystem = "system"

// Contractor audit events.
const (
	EventCreated          = "created"
	EventDetailsUpdated   = "details_updated"
	EventDocumentAttached = "document_attached"
	EventStepCompleted    = "step_completed"
	EventContractSent     = "contract_sent"
	EventContractResent   = "contract_resent"
	EventTokenRevoked     = "token_revoked"
	EventContractSigned   = "contract_signed"
	EventDocumentRendered = "document_rendered"
	EventActivated        = "activated"
	EventSuspended        = "suspended"
)

// ContractorEvent records a committed change in a contractor's audit trail.
type ContractorEvent struct {
	ID           string           `json:"id"`
	ContractorID string           `json:"contractor_id"`
	Event        string           `json:"event"`
	FromStatus   ContractorStatus `json:"from_status"`
	ToStatus     ContractorStatus `json:"to_status"`
	StepID       string           `json:"step_id,omitempty"`
	ActorID      string           `json:"actor_id"`
	Comment      string           `json:"comment,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Credential is a provisioned login for an activated contractor.
type Credential struct {
	ContractorID string    `json:"contractor_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	MustReset    bool      `json:"must_reset"`
	CreatedAt    time.Time `json:"created_at"`
}
