package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// TemplateRepository handles assessment template and question bank access.
type TemplateRepository struct {
	db *DB
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *TemplateRepository) WithTx(tx *DB) *TemplateRepository {
	return &TemplateRepository{db: tx}
}

// CreateSkill creates a skill.
func (r *TemplateRepository) CreateSkill(skill *models.Skill) error {
	if err := r.db.Create(skill).Error; err != nil {
		return fmt.Errorf("failed to create skill: %w", err)
	}
	return nil
}

// CreateTemplate creates an assessment template.
func (r *TemplateRepository) CreateTemplate(tmpl *models.AssessmentTemplate) error {
	if err := r.db.Create(tmpl).Error; err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// CreateQuestion adds a question to an unpublished template's bank.
func (r *TemplateRepository) CreateQuestion(q *models.Question) error {
	var tmpl models.AssessmentTemplate
	err := r.db.Select("published").First(&tmpl, "id = ?", q.TemplateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.E(domain.CodeNotFound, "template %s not found", q.TemplateID)
	}
	if err != nil {
		return fmt.Errorf("failed to check template %s: %w", q.TemplateID, err)
	}
	if tmpl.Published {
		return domain.E(domain.CodeIllegalTransition, "question bank of template %s is frozen after publication", q.TemplateID)
	}
	if err := r.db.Create(q).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template with its skill.
func (r *TemplateRepository) GetTemplate(id string) (*models.AssessmentTemplate, error) {
	var tmpl models.AssessmentTemplate
	err := r.db.Preload("Skill").First(&tmpl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "template %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &tmpl, nil
}

// ListTemplates lists published templates, optionally filtered by skill.
func (r *TemplateRepository) ListTemplates(skillID string) ([]models.AssessmentTemplate, error) {
	q := r.db.Preload("Skill").Where("published = ?", true)
	if skillID != "" {
		q = q.Where("skill_id = ?", skillID)
	}
	var templates []models.AssessmentTemplate
	if err := q.Order("created_at ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// GetQuestions retrieves the full question bank for a template, ordered by id
// so the seeded permutation has a stable base.
func (r *TemplateRepository) GetQuestions(templateID string) ([]models.Question, error) {
	var questions []models.Question
	err := r.db.Where("template_id = ?", templateID).Order("id ASC").Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get questions for template %s: %w", templateID, err)
	}
	return questions, nil
}

// Publish freezes a template's question bank and makes it attemptable.
func (r *TemplateRepository) Publish(id string) error {
	res := r.db.Model(&models.AssessmentTemplate{}).
		Where("id = ?", id).
		Update("published", true)
	if res.Error != nil {
		return fmt.Errorf("failed to publish template %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeNotFound, "template %s not found", id)
	}
	return nil
}

// DeleteTemplate removes a template. Forbidden while any assignment gates on it.
func (r *TemplateRepository) DeleteTemplate(id string) error {
	var refs int64
	err := r.db.Model(&models.Assignment{}).
		Where("required_template_id = ?", id).
		Count(&refs).Error
	if err != nil {
		return fmt.Errorf("failed to count template references: %w", err)
	}
	if refs > 0 {
		return domain.E(domain.CodeIllegalTransition, "template %s is referenced by %d assignments", id, refs)
	}

	res := r.db.Delete(&models.AssessmentTemplate{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeNotFound, "template %s not found", id)
	}
	return nil
}
