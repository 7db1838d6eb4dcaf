package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// ApplicationRepository handles application-related database operations.
type ApplicationRepository struct {
	db *DB
}

// NewApplicationRepository creates a new application repository.
func NewApplicationRepository(db *DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *ApplicationRepository) WithTx(tx *DB) *ApplicationRepository {
	return &ApplicationRepository{db: tx}
}

// Create creates a new application. The unique index on
// (assignment_id, applicant_id) rejects duplicates.
func (r *ApplicationRepository) Create(application *models.Application) error {
	if err := r.db.Create(application).Error; err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

// GetByID retrieves an application by id.
func (r *ApplicationRepository) GetByID(id string) (*models.Application, error) {
	var application models.Application
	err := r.db.First(&application, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "application %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application %s: %w", id, err)
	}
	return &application, nil
}

// GetByAssignmentAndApplicant retrieves the single application a user filed
// on an assignment, or nil when none exists.
func (r *ApplicationRepository) GetByAssignmentAndApplicant(assignmentID, applicantID string) (*models.Application, error) {
	var application models.Application
	err := r.db.Where("assignment_id = ? AND applicant_id = ?", assignmentID, applicantID).
		First(&application).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return &application, nil
}

// ListByAssignment lists all applications on an assignment, oldest first.
func (r *ApplicationRepository) ListByAssignment(assignmentID string) ([]models.Application, error) {
	var applications []models.Application
	err := r.db.Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&applications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list applications for %s: %w", assignmentID, err)
	}
	return applications, nil
}

// UpdateStatus moves an application to a new status, optionally stamping the
// viewed flag.
func (r *ApplicationRepository) UpdateStatus(id, status string, viewed bool) error {
	updates := map[string]interface{}{"status": status}
	if viewed {
		updates["viewed_by_employer"] = true
	}
	res := r.db.Model(&models.Application{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update application %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeNotFound, "application %s not found", id)
	}
	return nil
}

// RejectPeers rejects every pending or viewed application on the assignment
// except the accepted one. Runs in the acceptance transaction so the
// mass-reject is atomic with the acceptance.
func (r *ApplicationRepository) RejectPeers(assignmentID, acceptedID string) (int64, error) {
	res := r.db.Model(&models.Application{}).
		Where("assignment_id = ? AND id <> ?", assignmentID, acceptedID).
		Where("status IN ?", []string{models.ApplicationPending, models.ApplicationViewed}).
		Update("status", models.ApplicationRejected)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reject peer applications for %s: %w", assignmentID, res.Error)
	}
	return res.RowsAffected, nil
}
