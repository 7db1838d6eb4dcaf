package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// ProfileRepository handles profile-related database operations.
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *ProfileRepository) WithTx(tx *DB) *ProfileRepository {
	return &ProfileRepository{db: tx}
}

// Create creates a new profile.
func (r *ProfileRepository) Create(profile *models.Profile) error {
	if err := r.db.Create(profile).Error; err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile by user id.
func (r *ProfileRepository) GetByID(id string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.First(&profile, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "profile %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return &profile, nil
}

// IncrementCompletedEngagements bumps the completed-engagement counter.
func (r *ProfileRepository) IncrementCompletedEngagements(userID string) error {
	res := r.db.Model(&models.Profile{}).
		Where("id = ?", userID).
		UpdateColumn("completed_engagements", gorm.Expr("completed_engagements + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to increment completed engagements for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeNotFound, "profile %s not found", userID)
	}
	return nil
}

// ApplyRating folds a new overall rating into the profile's running mean.
func (r *ProfileRepository) ApplyRating(userID string, overall float64) error {
	profile, err := r.GetByID(userID)
	if err != nil {
		return err
	}
	total := profile.AvgRating*float64(profile.RatingCount) + overall
	profile.RatingCount++
	profile.AvgRating = total / float64(profile.RatingCount)

	err = r.db.Model(&models.Profile{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"avg_rating":   profile.AvgRating,
			"rating_count": profile.RatingCount,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to apply rating for %s: %w", userID, err)
	}
	return nil
}

// CountCompletedAssignmentsByWorker counts completed assignments for a worker.
// The unlock predicate is defined off this count.
func (r *ProfileRepository) CountCompletedAssignmentsByWorker(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Assignment{}).
		Where("worker_id = ? AND status = ?", userID, models.AssignmentCompleted).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count completed assignments for %s: %w", userID, err)
	}
	return count, nil
}
