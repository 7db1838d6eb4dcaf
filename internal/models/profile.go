package models

import (
	"time"
)

// Profile represents a marketplace participant. Display fields are opaque to
// the cores; the lifecycle service maintains the engagement counter and the
// review service maintains the rating projection.
type Profile struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"`
	Role                 string    `gorm:"size:20;not null;index" json:"role"` // 'job_seeker', 'employer'
	DisplayName          string    `gorm:"size:200" json:"display_name"`
	CompletedEngagements int       `gorm:"default:0" json:"completed_engagements"`
	AvgRating            float64   `gorm:"type:decimal(4,2);default:0" json:"avg_rating"`
	RatingCount          int       `gorm:"default:0" json:"rating_count"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName specifies the table name for Profile model.
func (Profile) TableName() string {
	return "profiles"
}

// Profile role constants.
const (
	RoleJobSeeker = "job_seeker"
	RoleEmployer  = "employer"
)

// IsEmployer reports whether the profile holds the employer role.
func (p *Profile) IsEmployer() bool {
	return p.Role == RoleEmployer
}
