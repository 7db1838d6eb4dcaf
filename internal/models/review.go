package models

import (
	"encoding/json"
	"time"
)

// Review is one participant's bilateral post-engagement review. At most one
// per (assignment, reviewer); writable only inside the review window.
type Review struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string          `gorm:"size:36;not null;index:idx_review_assignment_reviewer,unique" json:"assignment_id"`
	ReviewerID   string          `gorm:"size:36;not null;index:idx_review_assignment_reviewer,unique" json:"reviewer_id"`
	RevieweeID   string          `gorm:"size:36;not null;index" json:"reviewee_id"`
	ReviewerRole string          `gorm:"size:20;not null" json:"reviewer_role"` // 'employer', 'employee'
	Categories   json.RawMessage `gorm:"type:jsonb" json:"categories"`          // category -> rating in [1,5]
	Overall      float64         `gorm:"type:decimal(3,1);not null" json:"overall"`
	Text         string          `gorm:"type:text;not null" json:"text"`
	Recommend    bool            `json:"recommend"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TableName specifies the table name for Review model.
func (Review) TableName() string {
	return "reviews"
}

// Reviewer role constants.
const (
	ReviewerEmployer = "employer"
	ReviewerEmployee = "employee"
)

// CategoriesFor returns the rating categories required from a reviewer role.
func CategoriesFor(role string) []string {
	if role == ReviewerEmployer {
		return []string{"quality", "communication", "deadlines", "professionalism"}
	}
	return []string{"clarity", "responsiveness", "payment_reliability", "professionalism"}
}
