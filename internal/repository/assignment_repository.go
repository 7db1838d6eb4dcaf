package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// AssignmentRepository handles assignment and status-history operations.
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository.
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *AssignmentRepository) WithTx(tx *DB) *AssignmentRepository {
	return &AssignmentRepository{db: tx}
}

// Create creates a new assignment.
func (r *AssignmentRepository) Create(assignment *models.Assignment) error {
	if err := r.db.Create(assignment).Error; err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetByID retrieves an assignment by id.
func (r *AssignmentRepository) GetByID(id string) (*models.Assignment, error) {
	var assignment models.Assignment
	err := r.db.First(&assignment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "assignment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", id, err)
	}
	return &assignment, nil
}

// GetByIDFull retrieves an assignment with applications, milestones and history.
func (r *AssignmentRepository) GetByIDFull(id string) (*models.Assignment, error) {
	var assignment models.Assignment
	err := r.db.
		Preload("Applications").
		Preload("Milestones", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&assignment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "assignment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", id, err)
	}
	return &assignment, nil
}

// UpdateWithVersion persists lifecycle fields guarded by the optimistic
// version token.
func (r *AssignmentRepository) UpdateWithVersion(assignment *models.Assignment) error {
	expected := assignment.Version
	assignment.Version = expected + 1

	res := r.db.Model(&models.Assignment{}).
		Where("id = ? AND version = ?", assignment.ID, expected).
		Updates(map[string]interface{}{
			"status":              assignment.Status,
			"worker_id":           assignment.WorkerID,
			"started_at":          assignment.StartedAt,
			"completed_at":        assignment.CompletedAt,
			"cancelled_at":        assignment.CancelledAt,
			"cancellation_reason": assignment.CancellationReason,
			"version":             assignment.Version,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update assignment %s: %w", assignment.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodePreconditionFailed, "assignment %s version %d is stale", assignment.ID, expected)
	}
	return nil
}

// AppendHistory appends a status-history entry. Must run in the same
// transaction as the status change it records.
func (r *AssignmentRepository) AppendHistory(entry *models.StatusHistory) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// ListHistory retrieves the status history of an assignment, oldest first.
func (r *AssignmentRepository) ListHistory(assignmentID string) ([]models.StatusHistory, error) {
	var entries []models.StatusHistory
	err := r.db.Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list status history for %s: %w", assignmentID, err)
	}
	return entries, nil
}

// SoftDelete soft-deletes an assignment; history rows are left untouched.
func (r *AssignmentRepository) SoftDelete(id string) error {
	res := r.db.Delete(&models.Assignment{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete assignment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeNotFound, "assignment %s not found", id)
	}
	return nil
}
