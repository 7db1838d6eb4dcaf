package models

import (
	"time"

	"gorm.io/gorm"
)

// Assignment is a unit of work owned by an employer, with a single assigned
// worker once in progress. Soft-deleted only; status history outlives it.
type Assignment struct {
	ID                 string              `gorm:"primaryKey;size:36" json:"id"`
	EmployerID         string              `gorm:"size:36;not null;index" json:"employer_id"`
	Title              string              `gorm:"size:300;not null" json:"title"`
	Description        string              `gorm:"type:text" json:"description"`
	BudgetMin          int                 `json:"budget_min"`
	BudgetMax          int                 `json:"budget_max"`
	RequiredTemplateID *string             `gorm:"size:36;index" json:"required_template_id,omitempty"`
	RequiredTemplate   *AssessmentTemplate `gorm:"foreignKey:RequiredTemplateID" json:"required_template,omitempty"`
	PassingOverride    *float64            `gorm:"type:decimal(4,3)" json:"passing_override,omitempty"`
	Status             string              `gorm:"size:20;not null;index" json:"status"`
	WorkerID           *string             `gorm:"size:36;index" json:"worker_id,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	CancellationReason *string             `gorm:"size:500" json:"cancellation_reason,omitempty"`
	Version            int                 `gorm:"default:1" json:"version"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	DeletedAt          gorm.DeletedAt      `gorm:"index" json:"-"`

	// Relationships
	Applications []Application   `gorm:"foreignKey:AssignmentID" json:"applications,omitempty"`
	Milestones   []Milestone     `gorm:"foreignKey:AssignmentID" json:"milestones,omitempty"`
	History      []StatusHistory `gorm:"foreignKey:AssignmentID" json:"history,omitempty"`
}

// TableName specifies the table name for Assignment model.
func (Assignment) TableName() string {
	return "assignments"
}

// Assignment status constants.
const (
	AssignmentOpen       = "open"
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
	AssignmentCancelled  = "cancelled"
)

// PassingFractionFor resolves the gig's effective passing fraction against
// the required template default.
func (a *Assignment) PassingFractionFor(tmpl *AssessmentTemplate) float64 {
	if a.PassingOverride != nil {
		return *a.PassingOverride
	}
	return tmpl.PassingFraction
}

// Application is one job seeker's bid on an assignment. At most one per
// (assignment, applicant); at most one accepted per assignment.
type Application struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID     string    `gorm:"size:36;not null;index:idx_application_assignment_applicant,unique" json:"assignment_id"`
	ApplicantID      string    `gorm:"size:36;not null;index:idx_application_assignment_applicant,unique" json:"applicant_id"`
	Proposal         string    `gorm:"type:text" json:"proposal"`
	BidAmount        int       `json:"bid_amount"`
	DurationDays     int       `json:"duration_days"`
	Status           string    `gorm:"size:20;not null;index" json:"status"`
	ViewedByEmployer bool      `gorm:"default:false" json:"viewed_by_employer"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for Application model.
func (Application) TableName() string {
	return "applications"
}

// Application status constants.
const (
	ApplicationPending   = "pending"
	ApplicationViewed    = "viewed"
	ApplicationAccepted  = "accepted"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// StatusHistory is the append-only record of assignment status transitions.
// Written in the same transaction as the transition it records.
type StatusHistory struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string    `gorm:"size:36;not null;index" json:"assignment_id"`
	FromStatus   string    `gorm:"size:20;not null" json:"from_status"`
	ToStatus     string    `gorm:"size:20;not null" json:"to_status"`
	ActorID      string    `gorm:"size:36;not null" json:"actor_id"`
	Reason       string    `gorm:"size:500" json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for StatusHistory model.
func (StatusHistory) TableName() string {
	return "status_history"
}
