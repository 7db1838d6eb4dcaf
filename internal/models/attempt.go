package models

import (
	"time"
)

// Attempt represents one user's proctored exam session against a template.
type Attempt struct {
	ID              string             `gorm:"primaryKey;size:36" json:"id"`
	UserID          string             `gorm:"size:36;not null;index:idx_attempt_user_template" json:"user_id"`
	TemplateID      string             `gorm:"size:36;not null;index:idx_attempt_user_template" json:"template_id"`
	Template        AssessmentTemplate `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
	AssignmentID    *string            `gorm:"size:36;index" json:"assignment_id,omitempty"` // gig the attempt gates, if any
	State           string             `gorm:"size:30;not null;index" json:"state"`
	StartedAt       time.Time          `json:"started_at"`
	DeadlineAt      time.Time          `json:"deadline_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Score           *int               `json:"score,omitempty"` // integer percent, set on terminal scoring states
	IntegrityReason *string            `gorm:"size:100" json:"integrity_reason,omitempty"`
	Version         int                `gorm:"default:1" json:"version"` // optimistic concurrency token
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`

	// Relationships
	Questions []AttemptQuestion `gorm:"foreignKey:AttemptID" json:"questions,omitempty"`
}

// TableName specifies the table name for Attempt model.
func (Attempt) TableName() string {
	return "attempts"
}

// Attempt state constants.
const (
	AttemptInProgress         = "in_progress"
	AttemptPassed             = "passed"
	AttemptFailed             = "failed"
	AttemptVoidedForIntegrity = "voided_for_integrity"
	AttemptTimedOut           = "timed_out"
)

// Terminal reports whether the attempt state admits no further writes.
func (a *Attempt) Terminal() bool {
	return a.State != AttemptInProgress
}

// Integrity event kinds accepted by SignalIntegrityEvent.
const (
	IntegrityVisibilityLost    = "visibility_lost"
	IntegrityFocusLost         = "focus_lost"
	IntegrityNavigationAttempt = "navigation_attempt"
)

// ValidIntegrityKind reports whether kind is a recognized integrity signal.
func ValidIntegrityKind(kind string) bool {
	switch kind {
	case IntegrityVisibilityLost, IntegrityFocusLost, IntegrityNavigationAttempt:
		return true
	}
	return false
}

// AttemptQuestion records one slot of the materialized question set: which
// question occupies the ordinal, how its options were shuffled, and the
// taker's current answer. The recorded order survives resume.
type AttemptQuestion struct {
	ID           string   `gorm:"primaryKey;size:36" json:"id"`
	AttemptID    string   `gorm:"size:36;not null;index" json:"attempt_id"`
	Ordinal      int      `gorm:"not null" json:"ordinal"`
	QuestionID   string   `gorm:"size:36;not null" json:"question_id"`
	Question     Question `gorm:"foreignKey:QuestionID" json:"question,omitempty"`
	OptionOrder  string   `gorm:"size:4;not null" json:"option_order"`   // e.g. "CADB": presented position -> original letter
	ChosenLetter *string  `gorm:"size:1" json:"chosen_letter,omitempty"` // original letter, not presented position
}

// TableName specifies the table name for AttemptQuestion model.
func (AttemptQuestion) TableName() string {
	return "attempt_questions"
}
