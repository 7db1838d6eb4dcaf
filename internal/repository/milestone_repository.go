package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// MilestoneRepository handles milestone-related database operations.
type MilestoneRepository struct {
	db *DB
}

// NewMilestoneRepository creates a new milestone repository.
func NewMilestoneRepository(db *DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *MilestoneRepository) WithTx(tx *DB) *MilestoneRepository {
	return &MilestoneRepository{db: tx}
}

// Create creates a new milestone.
func (r *MilestoneRepository) Create(milestone *models.Milestone) error {
	if err := r.db.Create(milestone).Error; err != nil {
		return fmt.Errorf("failed to create milestone: %w", err)
	}
	return nil
}

// GetByID retrieves a milestone by id.
func (r *MilestoneRepository) GetByID(id string) (*models.Milestone, error) {
	var milestone models.Milestone
	err := r.db.First(&milestone, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "milestone %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get milestone %s: %w", id, err)
	}
	return &milestone, nil
}

// ListByAssignment lists an assignment's milestones ordered by ordinal.
func (r *MilestoneRepository) ListByAssignment(assignmentID string) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := r.db.Where("assignment_id = ?", assignmentID).
		Order("ordinal ASC").
		Find(&milestones).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones for %s: %w", assignmentID, err)
	}
	return milestones, nil
}

// UpdateWithVersion persists milestone changes guarded by the optimistic
// version token.
func (r *MilestoneRepository) UpdateWithVersion(milestone *models.Milestone) error {
	expected := milestone.Version
	milestone.Version = expected + 1

	res := r.db.Model(&models.Milestone{}).
		Where("id = ? AND version = ?", milestone.ID, expected).
		Updates(map[string]interface{}{
			"status":           milestone.Status,
			"revision_count":   milestone.RevisionCount,
			"client_notes":     milestone.ClientNotes,
			"submission_files": milestone.SubmissionFiles,
			"submission_links": milestone.SubmissionLinks,
			"submission_notes": milestone.SubmissionNotes,
			"submitted_at":     milestone.SubmittedAt,
			"version":          milestone.Version,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update milestone %s: %w", milestone.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodePreconditionFailed, "milestone %s version %d is stale", milestone.ID, expected)
	}
	return nil
}

// CancelNonApproved cancels every milestone of an assignment that is not yet
// approved. Runs in the assignment cancellation transaction.
func (r *MilestoneRepository) CancelNonApproved(assignmentID string) (int64, error) {
	res := r.db.Model(&models.Milestone{}).
		Where("assignment_id = ? AND status <> ?", assignmentID, models.MilestoneApproved).
		Update("status", models.MilestoneCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel milestones for %s: %w", assignmentID, res.Error)
	}
	return res.RowsAffected, nil
}

// NextOrdinal returns the next free ordinal index on an assignment.
func (r *MilestoneRepository) NextOrdinal(assignmentID string) (int, error) {
	var max int
	err := r.db.Model(&models.Milestone{}).
		Where("assignment_id = ?", assignmentID).
		Select("COALESCE(MAX(ordinal), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get next ordinal for %s: %w", assignmentID, err)
	}
	return max + 1, nil
}
