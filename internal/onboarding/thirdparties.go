package onboarding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/policy"
	"github.com/pitabwire/onboard/model"
)

// NewThirdParty is the input of CreateThirdParty.
type NewThirdParty struct {
	Name         string             `json:"name" validate:"required,max=200"`
	Country      model.Country      `json:"country" validate:"required"`
	BusinessType model.BusinessType `json:"business_type" validate:"required"`
	ContactEmail string             `json:"contact_email,omitempty" validate:"omitempty,email"`
}

// CreateThirdParty registers an active third party. Country-bound business
// types must match the third party's country.
func (s *Service) CreateThirdParty(ctx context.Context, in NewThirdParty) (model.ThirdParty, error) {
	if err := Validate(in); err != nil {
		return model.ThirdParty{}, err
	}
	var details []model.FieldError
	if !in.Country.Valid() {
		details = append(details, model.FieldError{Field: "country", Code: "oneof", Message: fmt.Sprintf("unsupported country %q", in.Country)})
	}
	if !in.BusinessType.Valid() {
		details = append(details, model.FieldError{Field: "business_type", Code: "oneof", Message: fmt.Sprintf("unknown business type %q", in.BusinessType)})
	}
	if len(details) > 0 {
		return model.ThirdParty{}, model.NewValidationError(details)
	}
	if !policy.CountryAllowed(in.Country, in.BusinessType) {
		return model.ThirdParty{}, model.NewFieldValidationError("business_type", "country",
			fmt.Sprintf("%s cannot be used by a third party in %s", in.BusinessType, in.Country))
	}

	now := s.now().UTC()
	tp := model.ThirdParty{
		ID:           s.newID(),
		Name:         strings.TrimSpace(in.Name),
		Country:      in.Country,
		BusinessType: in.BusinessType,
		ContactEmail: in.ContactEmail,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.thirdParties.Create(ctx, tp); err != nil {
		return model.ThirdParty{}, err
	}
	s.logger.Info("third party created",
		zap.String("third_party_id", tp.ID),
		zap.String("business_type", string(tp.BusinessType)),
	)
	return tp, nil
}

// GetThirdParty returns a third party by id.
func (s *Service) GetThirdParty(ctx context.Context, id string) (model.ThirdParty, error) {
	return s.thirdParties.Get(ctx, id)
}

// DeactivateThirdParty stops new contractors from being placed under a
// third party. Existing contractors are unaffected. Deactivating an
// inactive third party is a no-op.
func (s *Service) DeactivateThirdParty(ctx context.Context, id string) (model.ThirdParty, error) {
	tp, err := s.thirdParties.Get(ctx, id)
	if err != nil {
		return model.ThirdParty{}, err
	}
	if !tp.IsActive {
		return tp, nil
	}
	tp.IsActive = false
	tp.UpdatedAt = s.now().UTC()
	if err := s.thirdParties.Update(ctx, tp); err != nil {
		return model.ThirdParty{}, err
	}
	s.logger.Info("third party deactivated", zap.String("third_party_id", id))
	return tp, nil
}

// DeleteThirdParty removes a third party no contractor references.
func (s *Service) DeleteThirdParty(ctx context.Context, id string) error {
	if err := s.thirdParties.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("third party deleted", zap.String("third_party_id", id))
	return nil
}
