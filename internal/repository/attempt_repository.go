package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// AttemptRepository handles attempt-related database operations.
type AttemptRepository struct {
	db *DB
}

// NewAttemptRepository creates a new attempt repository.
func NewAttemptRepository(db *DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *AttemptRepository) WithTx(tx *DB) *AttemptRepository {
	return &AttemptRepository{db: tx}
}

// Create persists an attempt together with its materialized question slots.
// A concurrent writer that slipped past the eligibility check trips the
// partial unique index on (user_id, template_id, state=in_progress) and is
// surfaced as a coded error rather than a raw database failure.
func (r *AttemptRepository) Create(attempt *models.Attempt, slots []models.AttemptQuestion) error {
	if err := r.db.Create(attempt).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.E(domain.CodeIllegalTransition, "an attempt is already in progress")
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	if len(slots) > 0 {
		if err := r.db.Create(&slots).Error; err != nil {
			return fmt.Errorf("failed to create attempt questions: %w", err)
		}
	}
	return nil
}

// isUniqueViolation recognizes unique-index violations from both the
// postgres and sqlite drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// GetByID retrieves an attempt with its template and question slots.
func (r *AttemptRepository) GetByID(id string) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.db.Preload("Template").
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Preload("Questions.Question").
		First(&attempt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "attempt %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt %s: %w", id, err)
	}
	return &attempt, nil
}

// GetInProgress retrieves the single in-progress attempt for (user, template),
// if any.
func (r *AttemptRepository) GetInProgress(userID, templateID string) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.db.Where("user_id = ? AND template_id = ? AND state = ?",
		userID, templateID, models.AttemptInProgress).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get in-progress attempt: %w", err)
	}
	return &attempt, nil
}

// CountByUserTemplate counts all attempts a user made against a template.
func (r *AttemptRepository) CountByUserTemplate(userID, templateID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Attempt{}).
		Where("user_id = ? AND template_id = ?", userID, templateID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// LastCompletedSince retrieves the most recent attempt for (user, template)
// completed at or after the cutoff. Returns nil when none exists.
func (r *AttemptRepository) LastCompletedSince(userID, templateID string, cutoff time.Time) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.db.Where("user_id = ? AND template_id = ? AND completed_at IS NOT NULL AND completed_at >= ?",
		userID, templateID, cutoff).
		Order("completed_at DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last completed attempt: %w", err)
	}
	return &attempt, nil
}

// BestPassedScore returns the highest passed score for (user, template), or
// nil when the user never passed it.
func (r *AttemptRepository) BestPassedScore(userID, templateID string) (*int, error) {
	var attempt models.Attempt
	err := r.db.Where("user_id = ? AND template_id = ? AND state = ?",
		userID, templateID, models.AttemptPassed).
		Order("score DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get best passed score: %w", err)
	}
	return attempt.Score, nil
}

// UpdateWithVersion persists attempt changes guarded by the optimistic
// version token. A stale version fails with PreconditionFailed, which the
// surrounding transaction retries transparently.
func (r *AttemptRepository) UpdateWithVersion(attempt *models.Attempt) error {
	expected := attempt.Version
	attempt.Version = expected + 1

	res := r.db.Model(&models.Attempt{}).
		Where("id = ? AND version = ?", attempt.ID, expected).
		Updates(map[string]interface{}{
			"state":            attempt.State,
			"completed_at":     attempt.CompletedAt,
			"score":            attempt.Score,
			"integrity_reason": attempt.IntegrityReason,
			"version":          attempt.Version,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update attempt %s: %w", attempt.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodePreconditionFailed, "attempt %s version %d is stale", attempt.ID, expected)
	}
	return nil
}

// SaveAnswer overwrites the chosen letter on one question slot.
func (r *AttemptRepository) SaveAnswer(attemptID string, ordinal int, letter string) error {
	res := r.db.Model(&models.AttemptQuestion{}).
		Where("attempt_id = ? AND ordinal = ?", attemptID, ordinal).
		Update("chosen_letter", letter)
	if res.Error != nil {
		return fmt.Errorf("failed to save answer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeNotFound, "attempt %s has no question at index %d", attemptID, ordinal)
	}
	return nil
}
