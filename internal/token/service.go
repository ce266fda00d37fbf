// Package token manages the single-use, time-limited signing links that let
// an unauthenticated contractor reach their contract.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/notify"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

// DefaultTTL is the validity window of a signing link.
const DefaultTTL = 7 * 24 * time.Hour

// tokenBytes is the entropy of a generated token.
const tokenBytes = 32

// Resolution outcomes reported to observers.
const (
	OutcomeValid    = "valid"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
)

// Observer receives token resolution outcomes and committed transitions.
type Observer interface {
	OnTokenResolved(ctx context.Context, outcome string)
	OnContractorEvent(ctx context.Context, event model.ContractorEvent)
}

// Issued is the result of issuing or re-sending a signing link.
type Issued struct {
	Token      string           `json:"-"`
	Expiry     time.Time        `json:"token_expiry"`
	Link       string           `json:"-"`
	Contractor model.Contractor `json:"contractor"`
}

// Service issues, resolves and revokes signing tokens.
type Service struct {
	contractors  store.ContractorStore
	thirdParties store.ThirdPartyStore
	notifier     model.Notifier
	logger       *zap.Logger
	observers    []Observer

	ttl      time.Duration
	baseURL  string
	now      func() time.Time
	generate func() (string, error)
}

// Option configures optional dependencies.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBaseURL sets the prefix of signing links, e.g.
// https://onboard.example.com/contracts.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGenerator replaces the random token source.
func WithGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

// WithNotifier sets the sender of contract emails.
func WithNotifier(n model.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// NewService creates a token service.
func NewService(contractors store.ContractorStore, thirdParties store.ThirdPartyStore, opts ...Option) *Service {
	s := &Service{
		contractors:  contractors,
		thirdParties: thirdParties,
		logger:       zap.NewNop(),
		ttl:          DefaultTTL,
		now:          time.Now,
		generate:     Generate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns a fresh URL-safe token with 256 bits of entropy.
func Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TTL returns the validity window of issued links.
func (s *Service) TTL() time.Duration { return s.ttl }

// Link returns the signing URL for token.
func (s *Service) Link(token string) string {
	return s.baseURL + "/" + token
}

// Issue mints a token for a draft contractor and moves it to
// pending_signature in one write. The contractor must be at the
// contract_generation step; otherwise INVALID_STATE lists the outstanding
// steps. The contract_generation step is completed and the contract email
// is sent.
func (s *Service) Issue(ctx context.Context, contractorID, actorID string) (Issued, error) {
	ctx, span := observability.StartSpan(ctx, "token.Issue", observability.AttrContractorID.String(contractorID))
	issued, err := s.issue(ctx, contractorID, actorID, false)
	observability.EndSpanWithError(span, err)
	return issued, err
}

// Resend mints a fresh token for a contractor already in
// pending_signature, refreshing the expiry. The previous token stops
// resolving immediately. sentDate keeps its first value.
func (s *Service) Resend(ctx context.Context, contractorID, actorID string) (Issued, error) {
	ctx, span := observability.StartSpan(ctx, "token.Resend", observability.AttrContractorID.String(contractorID))
	issued, err := s.issue(ctx, contractorID, actorID, true)
	observability.EndSpanWithError(span, err)
	return issued, err
}

func (s *Service) issue(ctx context.Context, contractorID, actorID string, resend bool) (Issued, error) {
	var token string
	var expiry time.Time
	var events []model.ContractorEvent

	updated, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, contractorID),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			want := model.StatusDraft
			event := model.EventContractSent
			if resend {
				want = model.StatusPendingSignature
				event = model.EventContractResent
			}
			if c.Status != want {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s, contract can only be %s from %s", c.ID, c.Status, verb(resend), want),
				)
			}
			if !workflow.CanTransition(c.Status, model.StatusPendingSignature) {
				return nil, model.NewInvalidStateError(fmt.Sprintf("contractor %q cannot move to %s", c.ID, model.StatusPendingSignature))
			}

			tp, err := s.thirdParties.Get(ctx, c.ThirdPartyID)
			if err != nil {
				return nil, err
			}
			if !resend && c.CurrentStepID != workflow.StepContractGeneration {
				return nil, notReadyError(c, tp.BusinessType)
			}

			// A fresh token on every attempt: a retried write after a
			// uniqueness conflict must not reuse the colliding value.
			token, err = s.generate()
			if err != nil {
				return nil, fmt.Errorf("generate token: %w", err)
			}
			now := s.now().UTC()
			expiry = now.Add(s.ttl)

			from := c.Status
			c.SetToken(token, expiry)
			c.Status = model.StatusPendingSignature
			if c.SentDate == nil {
				c.SentDate = &now
			}
			workflow.Advance(c, tp.BusinessType, workflow.StepContractGeneration)
			events = []model.ContractorEvent{store.NewEvent(c, event, from, actorID, now)}
			return events, nil
		})
	if err != nil {
		return Issued{}, err
	}
	s.observe(ctx, events)

	issued := Issued{Token: token, Expiry: expiry, Link: s.Link(token), Contractor: updated}
	s.logger.Info("contract link issued",
		zap.String("contractor_id", updated.ID),
		zap.Bool("resend", resend),
		zap.Time("expiry", expiry),
	)
	s.sendContract(ctx, issued)
	return issued, nil
}

// notReadyError reports the workflow steps a draft contractor must finish
// before its contract can be sent.
func notReadyError(c *model.Contractor, bt model.BusinessType) error {
	outstanding := workflow.OutstandingBefore(bt, c.CompletedSteps, workflow.StepContractGeneration)
	err := model.NewInvalidStateError(fmt.Sprintf(
		"contractor %q is at step %q, contract can only be sent at %q (outstanding: %s)",
		c.ID, c.CurrentStepID, workflow.StepContractGeneration, strings.Join(outstanding, ", "),
	))
	for _, id := range outstanding {
		err.Details = append(err.Details, model.FieldError{
			Field:   "steps." + id,
			Code:    "incomplete",
			Message: "step " + id + " is not completed",
		})
	}
	return err
}

func verb(resend bool) string {
	if resend {
		return "re-sent"
	}
	return "sent"
}

func (s *Service) observe(ctx context.Context, events []model.ContractorEvent) {
	for _, o := range s.observers {
		for _, e := range events {
			o.OnContractorEvent(ctx, e)
		}
	}
}

// sendContract delivers the contract email. Failures are logged only; the
// issued token is already committed.
func (s *Service) sendContract(ctx context.Context, issued Issued) {
	if s.notifier == nil {
		return
	}
	n := notify.ContractEmail(issued.Contractor, issued.Link, issued.Expiry)
	if err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Warn("contract email failed",
			zap.String("contractor_id", issued.Contractor.ID),
			zap.Error(err),
		)
	}
}

// Resolve returns the contractor holding token. An unknown token is
// NOT_FOUND; a token whose expiry lies in the past is EXPIRED.
func (s *Service) Resolve(ctx context.Context, token string) (model.Contractor, error) {
	ctx, span := observability.StartSpan(ctx, "token.Resolve")
	c, err := s.resolve(ctx, token)
	observability.EndSpanWithError(span, err)
	return c, err
}

func (s *Service) resolve(ctx context.Context, token string) (model.Contractor, error) {
	c, err := s.contractors.GetByToken(ctx, token)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			s.resolved(ctx, OutcomeNotFound)
		}
		return model.Contractor{}, err
	}
	if err := s.CheckExpiry(c); err != nil {
		s.resolved(ctx, OutcomeExpired)
		return model.Contractor{}, err
	}
	s.resolved(ctx, OutcomeValid)
	return c, nil
}

// CheckExpiry returns EXPIRED once the current time is past c's token
// expiry. The expiry instant itself is still valid.
func (s *Service) CheckExpiry(c model.Contractor) error {
	if c.TokenExpiry == nil || s.now().After(*c.TokenExpiry) {
		return model.NewExpiredError("contract link has expired")
	}
	return nil
}

func (s *Service) resolved(ctx context.Context, outcome string) {
	for _, o := range s.observers {
		o.OnTokenResolved(ctx, outcome)
	}
}

// Revoke cancels the outstanding link of a pending contractor without
// changing its status. It is conditioned on pending_signature so a
// signature that commits first wins. Revoking a contractor that has no
// outstanding link is a no-op.
func (s *Service) Revoke(ctx context.Context, contractorID, actorID string) (model.Contractor, error) {
	ctx, span := observability.StartSpan(ctx, "token.Revoke",
		observability.AttrContractorID.String(contractorID),
		observability.AttrActorID.String(actorID),
	)

	var unchanged *model.Contractor
	var events []model.ContractorEvent
	updated, err := store.Mutate(ctx, s.contractors, store.ByID(s.contractors, contractorID),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			if c.Status != model.StatusPendingSignature {
				return nil, model.NewInvalidStateError(
					fmt.Sprintf("contractor %q is %s, only a pending contract link can be revoked", c.ID, c.Status),
				)
			}
			if !c.HasToken() {
				cp := c.Clone()
				unchanged = &cp
				return nil, errNoop
			}
			c.ClearToken()
			events = []model.ContractorEvent{
				store.NewEvent(c, model.EventTokenRevoked, c.Status, actorID, s.now().UTC()),
			}
			return events, nil
		})
	if errors.Is(err, errNoop) {
		observability.EndSpanWithError(span, nil)
		return *unchanged, nil
	}
	observability.EndSpanWithError(span, err)
	if err != nil {
		return model.Contractor{}, err
	}

	s.observe(ctx, events)
	s.logger.Info("contract link revoked", zap.String("contractor_id", contractorID))
	return updated, nil
}

// errNoop aborts a mutation that has nothing to write.
var errNoop = errors.New("no change")
