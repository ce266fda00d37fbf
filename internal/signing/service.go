// Package signing records contractor signatures and finalizes the
// onboarding lifecycle: activation and suspension.
package signing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/notify"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/policy"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/template"
	"github.com/pitabwire/onboard/internal/token"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

// Signature payload limits.
const (
	maxTypedLength  = 200
	maxDrawnLength  = 512 * 1024
	drawnDataPrefix = "data:image/"
)

// Scheduler queues PDF materialization of a signed contract. Schedule must
// not block on rendering.
type Scheduler interface {
	Schedule(contractorID string)
}

// EventObserver receives committed contractor events.
type EventObserver interface {
	OnContractorEvent(ctx context.Context, event model.ContractorEvent)
}

// SignatureInput is the signature submitted through a signing link.
type SignatureInput struct {
	Type model.SignatureType `json:"type" validate:"required"`
	Data string              `json:"data"`
}

// SignerMeta identifies the client that submitted a signature.
type SignerMeta struct {
	RemoteAddr string
	UserAgent  string
}

// ContractView is what an unauthenticated contractor sees through a
// signing link.
type ContractView struct {
	Contractor   model.Contractor   `json:"contractor"`
	ThirdParty   string             `json:"third_party"`
	BusinessType model.BusinessType `json:"business_type"`
	PolicyLabel  string             `json:"policy_label"`
	Content      string             `json:"content"`
	TokenExpiry  time.Time          `json:"token_expiry"`
	DocumentURL  string             `json:"document_url,omitempty"`
}

// Service captures signatures and drives post-signature transitions.
type Service struct {
	contractors  store.ContractorStore
	thirdParties store.ThirdPartyStore
	templates    template.Lister
	tokens       *token.Service
	credentials  model.CredentialProvider
	scheduler    Scheduler
	notifier     model.Notifier
	logger       *zap.Logger
	observers    []EventObserver
	now          func() time.Time

	// activateMu serializes Activate so concurrent requests cannot each
	// provision a password for the same contractor.
	activateMu sync.Mutex
}

// Option configures optional dependencies.
type Option func(*Service)

// WithScheduler sets the materialization scheduler.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

// WithNotifier sets the sender of activation emails.
func WithNotifier(n model.Notifier) Option {
	return func(svc *Service) { svc.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// WithObserver adds an event observer.
func WithObserver(o EventObserver) Option {
	return func(svc *Service) { svc.observers = append(svc.observers, o) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService creates a signing service.
func NewService(
	contractors store.ContractorStore,
	thirdParties store.ThirdPartyStore,
	templates template.Lister,
	tokens *token.Service,
	credentials model.CredentialProvider,
	opts ...Option,
) *Service {
	s := &Service{
		contractors:  contractors,
		thirdParties: thirdParties,
		templates:    templates,
		tokens:       tokens,
		credentials:  credentials,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContractView resolves token and renders the contract the contractor is
// asked to sign.
func (s *Service) ContractView(ctx context.Context, tok string) (ContractView, error) {
	c, err := s.tokens.Resolve(ctx, tok)
	if err != nil {
		return ContractView{}, err
	}
	tp, err := s.thirdParties.Get(ctx, c.ThirdPartyID)
	if err != nil {
		return ContractView{}, err
	}
	content, err := s.contractContent(ctx, c, tp)
	if err != nil {
		return ContractView{}, err
	}

	view := ContractView{
		Contractor:   c,
		ThirdParty:   tp.Name,
		BusinessType: tp.BusinessType,
		PolicyLabel:  policy.For(tp.BusinessType).Label,
		Content:      content,
		DocumentURL:  c.DocumentURL,
	}
	if c.TokenExpiry != nil {
		view.TokenExpiry = *c.TokenExpiry
	}
	return view, nil
}

func (s *Service) contractContent(ctx context.Context, c model.Contractor, tp model.ThirdParty) (string, error) {
	if c.ContractContent != "" {
		return c.ContractContent, nil
	}
	raw, err := template.ContractContent(ctx, s.templates, tp.Country)
	if err != nil {
		return "", fmt.Errorf("load contract template: %w", err)
	}
	return template.Substitute(raw, template.FieldValues(c, tp, s.now().UTC())), nil
}

// ValidateSignature checks a submitted signature payload.
func ValidateSignature(in SignatureInput) error {
	data := strings.TrimSpace(in.Data)
	switch in.Type {
	case model.SignatureTyped:
		if data == "" {
			return model.NewFieldValidationError("data", "required", "typed signature must not be empty")
		}
		if len(data) > maxTypedLength {
			return model.NewFieldValidationError("data", "max", fmt.Sprintf("typed signature exceeds %d characters", maxTypedLength))
		}
	case model.SignatureDrawn:
		if data == "" {
			return model.NewFieldValidationError("data", "required", "drawn signature must not be empty")
		}
		if !strings.HasPrefix(data, drawnDataPrefix) {
			return model.NewFieldValidationError("data", "format", "drawn signature must be a data URL starting with "+drawnDataPrefix)
		}
		if len(data) > maxDrawnLength {
			return model.NewFieldValidationError("data", "max", "drawn signature image is too large")
		}
	default:
		return model.NewFieldValidationError("type", "oneof", "signature type must be typed or drawn")
	}
	return nil
}

// RecordSignature signs the contract behind tok. The token is resolved
// first (NOT_FOUND, EXPIRED), then the contractor must be pending_signature
// (INVALID_STATE), then the payload is validated (VALIDATION_ERROR). On
// success the signature, signed date, frozen contract text and cleared
// token commit as one write, and PDF materialization is scheduled.
func (s *Service) RecordSignature(ctx context.Context, tok string, in SignatureInput, meta SignerMeta) (model.Contractor, error) {
	ctx, span := observability.StartSpan(ctx, "signing.RecordSignature")
	c, err := s.recordSignature(ctx, tok, in, meta)
	observability.EndSpanWithError(span, err)
	return c, err
}

func (s *Service) recordSignature(ctx context.Context, tok string, in SignatureInput, meta SignerMeta) (model.Contractor, error) {
	var events []model.ContractorEvent
	signed, err := store.Mutate(ctx, s.contractors, store.ByToken(s.contractors, tok),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			if err := s.tokens.CheckExpiry(*c); err != nil {
				return nil, err
			}
			if c.Status != model.StatusPendingSignature || !workflow.CanTransition(c.Status, model.StatusSigned) {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s, only a pending contract can be signed", c.ID, c.Status),
				)
			}
			if err := ValidateSignature(in); err != nil {
				return nil, err
			}

			tp, err := s.thirdParties.Get(ctx, c.ThirdPartyID)
			if err != nil {
				return nil, err
			}

			now := s.now().UTC()
			from := c.Status
			c.Signature = &model.Signature{
				Type:        in.Type,
				Data:        strings.TrimSpace(in.Data),
				SignedAt:    now,
				SignerIP:    meta.RemoteAddr,
				SignerAgent: meta.UserAgent,
			}
			c.SignedDate = &now
			c.Status = model.StatusSigned
			c.ClearToken()

			content, err := s.contractContent(ctx, *c, tp)
			if err != nil {
				return nil, err
			}
			c.ContractContent = content

			workflow.Advance(c, tp.BusinessType, workflow.StepContractSignature)
			events = []model.ContractorEvent{store.NewEvent(c, model.EventContractSigned, from, c.ID, now)}
			return events, nil
		})
	if err != nil {
		return model.Contractor{}, err
	}

	s.observe(ctx, events)
	s.logger.Info("contract signed",
		zap.String("contractor_id", signed.ID),
		zap.String("signature_type", string(signed.Signature.Type)),
	)
	if s.scheduler != nil {
		s.scheduler.Schedule(signed.ID)
	}
	return signed, nil
}

// Activate approves a signed contractor. Credentials are provisioned before
// the status write; if provisioning fails the contractor stays signed and
// DEPENDENCY_FAILURE is returned. If the status write fails after
// provisioning, for instance because the contractor was suspended meanwhile,
// the new login is revoked. The activation email is sent after the write
// commits.
func (s *Service) Activate(ctx context.Context, contractorID, actorID string) (model.Contractor, error) {
	ctx, span := observability.StartSpan(ctx, "signing.Activate",
		observability.AttrContractorID.String(contractorID),
		observability.AttrActorID.String(actorID),
	)
	c, password, err := s.activate(ctx, contractorID, actorID)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return model.Contractor{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, notify.ActivationEmail(c, password)); err != nil {
			s.logger.Warn("activation email failed",
				zap.String("contractor_id", c.ID),
				zap.Error(err),
			)
		}
	}
	return c, nil
}

func (s *Service) activate(ctx context.Context, contractorID, actorID string) (model.Contractor, string, error) {
	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	current, err := s.contractors.Get(ctx, contractorID)
	if err != nil {
		return model.Contractor{}, "", err
	}
	if err := requireSigned(current); err != nil {
		return model.Contractor{}, "", err
	}

	password, err := s.credentials.Provision(ctx, current.ID, current.Personal.Email)
	if model.IsCode(err, model.ErrConflict) {
		return model.Contractor{}, "", model.NewInvalidStateError(
			fmt.Sprintf("activation of contractor %q is already in progress", current.ID),
		)
	}
	if err != nil {
		s.logger.Error("credential provisioning failed",
			zap.String("contractor_id", current.ID),
			zap.Error(err),
		)
		return model.Contractor{}, "", model.NewDependencyFailureError("credential provider", err)
	}

	var events []model.ContractorEvent
	activated, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, contractorID),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			if err := requireSigned(*c); err != nil {
				return nil, err
			}
			tp, err := s.thirdParties.Get(ctx, c.ThirdPartyID)
			if err != nil {
				return nil, err
			}

			now := s.now().UTC()
			from := c.Status
			c.Status = model.StatusActive
			c.ActivatedDate = &now
			workflow.Advance(c, tp.BusinessType, workflow.StepAdminApproval, workflow.StepAccountActivation)
			events = []model.ContractorEvent{store.NewEvent(c, model.EventActivated, from, actorID, now)}
			return events, nil
		})
	if err != nil {
		s.revokeCredential(ctx, current.ID, password)
		return model.Contractor{}, "", err
	}

	s.observe(ctx, events)
	s.logger.Info("contractor activated", zap.String("contractor_id", activated.ID))
	return activated, password, nil
}

// revokeCredential removes a login whose activation did not commit.
func (s *Service) revokeCredential(ctx context.Context, contractorID, password string) {
	if err := s.credentials.Revoke(context.WithoutCancel(ctx), contractorID, password); err != nil {
		s.logger.Error("credential revoke failed",
			zap.String("contractor_id", contractorID),
			zap.Error(err),
		)
	}
}

func requireSigned(c model.Contractor) error {
	if c.Status != model.StatusSigned || !workflow.CanTransition(c.Status, model.StatusActive) {
		return model.NewInvalidStateError(
			fmt.Sprintf("contractor %q is %s, only a signed contractor can be activated", c.ID, c.Status),
		)
	}
	return nil
}

// Suspend moves a contractor that is past draft into suspended, recording
// the reason. Any outstanding signing link is revoked in the same write.
func (s *Service) Suspend(ctx context.Context, contractorID, reason, actorID string) (model.Contractor, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Contractor{}, model.NewFieldValidationError("reason", "required", "a suspension reason is required")
	}

	var events []model.ContractorEvent
	suspended, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, contractorID),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			if !workflow.CanTransition(c.Status, model.StatusSuspended) {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s and cannot be suspended", c.ID, c.Status),
				)
			}
			now := s.now().UTC()
			from := c.Status
			c.Status = model.StatusSuspended
			c.SuspendedDate = &now
			c.SuspensionReason = reason
			c.ClearToken()

			e := store.NewEvent(c, model.EventSuspended, from, actorID, now)
			e.Comment = reason
			events = []model.ContractorEvent{e}
			return events, nil
		})
	if err != nil {
		return model.Contractor{}, err
	}

	s.observe(ctx, events)
	s.logger.Info("contractor suspended",
		zap.String("contractor_id", suspended.ID),
		zap.String("from_status", string(events[0].FromStatus)),
	)
	return suspended, nil
}

func (s *Service) observe(ctx context.Context, events []model.ContractorEvent) {
	for _, o := range s.observers {
		for _, e := range events {
			o.OnContractorEvent(ctx, e)
		}
	}
}
