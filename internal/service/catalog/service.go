// Package catalog manages the skill and assessment-template catalog:
// authoring questions, publishing templates and serving the public listing.
// Published templates are immutable.
package catalog

import (
	"context"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Service drives catalog authoring and reads.
type Service struct {
	templates *repository.TemplateRepository
	idGen     clock.IDGen
	log       *logger.Logger
}

// NewService creates a new catalog service.
func NewService(templates *repository.TemplateRepository, idGen clock.IDGen, log *logger.Logger) *Service {
	return &Service{templates: templates, idGen: idGen, log: log}
}

// CreateSkill registers a skill.
func (s *Service) CreateSkill(ctx context.Context, skill *models.Skill) (*models.Skill, error) {
	if skill.Name == "" {
		return nil, domain.E(domain.CodeValidationFailed, "skill name is required")
	}
	skill.ID = s.idGen.NewID()
	if err := s.templates.CreateSkill(skill); err != nil {
		return nil, err
	}
	return skill, nil
}

// CreateTemplate registers an unpublished assessment template for a skill.
func (s *Service) CreateTemplate(ctx context.Context, tmpl *models.AssessmentTemplate) (*models.AssessmentTemplate, error) {
	if tmpl.QuestionCount <= 0 {
		return nil, domain.E(domain.CodeValidationFailed, "question count must be positive")
	}
	if tmpl.TimeBudgetMinutes <= 0 {
		return nil, domain.E(domain.CodeValidationFailed, "time budget must be positive")
	}
	if tmpl.PassingFraction <= 0 || tmpl.PassingFraction > 1 {
		return nil, domain.E(domain.CodeValidationFailed, "passing fraction must be in (0,1]")
	}
	if tmpl.ExcellenceFraction < tmpl.PassingFraction || tmpl.ExcellenceFraction > 1 {
		return nil, domain.E(domain.CodeValidationFailed, "excellence fraction must be in [passing,1]")
	}
	if tmpl.RetakeCost < 0 {
		return nil, domain.E(domain.CodeValidationFailed, "retake cost cannot be negative")
	}

	tmpl.ID = s.idGen.NewID()
	tmpl.Published = false
	if err := s.templates.CreateTemplate(tmpl); err != nil {
		return nil, err
	}
	s.log.Info().Str("template", tmpl.ID).Str("skill", tmpl.SkillID).Msg("Template created")
	return tmpl, nil
}

// AddQuestion adds a question to an unpublished template.
func (s *Service) AddQuestion(ctx context.Context, q *models.Question) (*models.Question, error) {
	if q.Prompt == "" || q.OptionA == "" || q.OptionB == "" || q.OptionC == "" || q.OptionD == "" {
		return nil, domain.E(domain.CodeValidationFailed, "prompt and all four options are required")
	}
	if !models.ValidLetter(q.CorrectLetter) {
		return nil, domain.E(domain.CodeValidationFailed, "correct letter must be one of A-D")
	}
	q.ID = s.idGen.NewID()
	if err := s.templates.CreateQuestion(q); err != nil {
		return nil, err
	}
	return q, nil
}

// Publish freezes a template and opens it for attempts. The bank must hold
// at least the template's question count.
func (s *Service) Publish(ctx context.Context, templateID string) (*models.AssessmentTemplate, error) {
	tmpl, err := s.templates.GetTemplate(templateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Published {
		return tmpl, nil // no-op
	}

	bank, err := s.templates.GetQuestions(templateID)
	if err != nil {
		return nil, err
	}
	if len(bank) < tmpl.QuestionCount {
		return nil, domain.E(domain.CodeValidationFailed,
			"template needs %d questions, bank has %d", tmpl.QuestionCount, len(bank))
	}

	if err := s.templates.Publish(templateID); err != nil {
		return nil, err
	}
	tmpl.Published = true
	s.log.Info().Str("template", templateID).Int("bank_size", len(bank)).Msg("Template published")
	return tmpl, nil
}

// GetTemplate retrieves a template with its skill.
func (s *Service) GetTemplate(ctx context.Context, id string) (*models.AssessmentTemplate, error) {
	return s.templates.GetTemplate(id)
}

// ListTemplates lists templates, optionally filtered by skill.
func (s *Service) ListTemplates(ctx context.Context, skillID string) ([]models.AssessmentTemplate, error) {
	return s.templates.ListTemplates(skillID)
}
