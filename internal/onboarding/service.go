// Package onboarding implements the admin side of contractor onboarding:
// draft contractors, document attachment, workflow step completion, third
// parties and templates.
package onboarding

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/model"
)

// EventObserver receives committed contractor events.
type EventObserver interface {
	OnContractorEvent(ctx context.Context, event model.ContractorEvent)
}

// Service runs admin onboarding operations.
type Service struct {
	contractors  store.ContractorStore
	thirdParties store.ThirdPartyStore
	templates    store.TemplateStore
	logger       *zap.Logger
	observers    []EventObserver
	now          func() time.Time
	newID        func() string
}

// Option configures optional dependencies.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver adds an observer of committed contractor events.
func WithObserver(o EventObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the uuid id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates an onboarding service.
func NewService(
	contractors store.ContractorStore,
	thirdParties store.ThirdPartyStore,
	templates store.TemplateStore,
	opts ...Option,
) *Service {
	s := &Service{
		contractors:  contractors,
		thirdParties: thirdParties,
		templates:    templates,
		logger:       zap.NewNop(),
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(ctx context.Context, events []model.ContractorEvent) {
	for _, o := range s.observers {
		for _, e := range events {
			o.OnContractorEvent(ctx, e)
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks v against its validate struct tags and reports every
// failing field as a VALIDATION_ERROR. Field names are the json names.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, model.FieldError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return model.NewValidationError(details)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "len":
		return fe.Field() + " must be " + fe.Param() + " characters long"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters long"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	}
	return fe.Field() + " is invalid"
}
