package models

import (
	"strings"
	"time"
)

// Milestone is a billable checkpoint within an assignment, bounded by a
// revision cap. The latest submission record is preserved across revisions.
type Milestone struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID    string     `gorm:"size:36;not null;index" json:"assignment_id"`
	Ordinal         int        `gorm:"not null" json:"ordinal"`
	Title           string     `gorm:"size:300;not null" json:"title"`
	Amount          int        `gorm:"not null" json:"amount"` // escrow amount exposed to the payment collaborator
	MaxRevisions    int        `gorm:"default:2" json:"max_revisions"`
	RevisionCount   int        `gorm:"default:0" json:"revision_count"`
	Status          string     `gorm:"size:30;not null;index" json:"status"`
	ClientNotes     string     `gorm:"type:text" json:"client_notes,omitempty"`     // latest revision-request notes
	SubmissionFiles string     `gorm:"type:text" json:"submission_files,omitempty"` // newline-separated file refs
	SubmissionLinks string     `gorm:"type:text" json:"submission_links,omitempty"`
	SubmissionNotes string     `gorm:"type:text" json:"submission_notes,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	Version         int        `gorm:"default:1" json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Milestone model.
func (Milestone) TableName() string {
	return "milestones"
}

// JoinList encodes a list of file refs or links as a newline-separated
// column value.
func JoinList(items []string) string {
	return strings.Join(items, "\n")
}

// SplitList decodes a newline-separated column value back into a list.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, "\n")
}

// Milestone status constants.
const (
	MilestonePending           = "pending"
	MilestoneSubmitted         = "submitted"
	MilestoneApproved          = "approved"
	MilestoneRevisionRequested = "revision_requested"
	MilestoneCancelled         = "cancelled"
)
