package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// ReviewRepository handles review-related database operations.
type ReviewRepository struct {
	db *DB
}

// NewReviewRepository creates a new review repository.
func NewReviewRepository(db *DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *ReviewRepository) WithTx(tx *DB) *ReviewRepository {
	return &ReviewRepository{db: tx}
}

// Create persists a review. The unique index on (assignment_id, reviewer_id)
// rejects a second review by the same participant.
func (r *ReviewRepository) Create(review *models.Review) error {
	if err := r.db.Create(review).Error; err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

// GetByAssignmentAndReviewer retrieves the review a participant wrote for an
// assignment, or nil when none exists.
func (r *ReviewRepository) GetByAssignmentAndReviewer(assignmentID, reviewerID string) (*models.Review, error) {
	var review models.Review
	err := r.db.Where("assignment_id = ? AND reviewer_id = ?", assignmentID, reviewerID).
		First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &review, nil
}

// GetByID retrieves a review by id.
func (r *ReviewRepository) GetByID(id string) (*models.Review, error) {
	var review models.Review
	err := r.db.First(&review, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "review %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review %s: %w", id, err)
	}
	return &review, nil
}

// ListByAssignment lists all reviews of an assignment.
func (r *ReviewRepository) ListByAssignment(assignmentID string) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for %s: %w", assignmentID, err)
	}
	return reviews, nil
}

// ListByReviewee lists reviews received by a user, newest first.
func (r *ReviewRepository) ListByReviewee(revieweeID string) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.Where("reviewee_id = ?", revieweeID).
		Order("created_at DESC").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for reviewee %s: %w", revieweeID, err)
	}
	return reviews, nil
}
