package onboarding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/model"
)

// NewTemplate is the input of CreateTemplate. An empty country makes the
// template apply everywhere.
type NewTemplate struct {
	Name    string             `json:"name" validate:"required,max=200"`
	Type    model.TemplateType `json:"template_type" validate:"required"`
	Content string             `json:"content" validate:"required"`
	Country model.Country      `json:"country,omitempty"`
}

// CreateTemplate stores a document template.
func (s *Service) CreateTemplate(ctx context.Context, in NewTemplate) (model.Template, error) {
	if err := Validate(in); err != nil {
		return model.Template{}, err
	}
	if !in.Type.Valid() {
		return model.Template{}, model.NewFieldValidationError("template_type", "oneof",
			fmt.Sprintf("unknown template type %q", in.Type))
	}
	if strings.TrimSpace(in.Content) == "" {
		return model.Template{}, model.NewFieldValidationError("content", "required", "content is required")
	}
	if in.Country != "" && !in.Country.Valid() {
		return model.Template{}, model.NewFieldValidationError("country", "oneof",
			fmt.Sprintf("unsupported country %q", in.Country))
	}

	t := model.Template{
		ID:        s.newID(),
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Content:   in.Content,
		Country:   in.Country,
		CreatedAt: s.now().UTC(),
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return model.Template{}, err
	}
	s.logger.Info("template created",
		zap.String("template_id", t.ID),
		zap.String("template_type", string(t.Type)),
	)
	return t, nil
}

// GetTemplate returns a template by id.
func (s *Service) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	return s.templates.Get(ctx, id)
}
