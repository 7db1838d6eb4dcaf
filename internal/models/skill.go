package models

import (
	"time"
)

// Skill represents an assessable skill. Immutable.
type Skill struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200;not null;uniqueIndex" json:"name"`
	Category  string    `gorm:"size:100;index" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Skill model.
func (Skill) TableName() string {
	return "skills"
}

// AssessmentTemplate defines a proctored exam for a skill at one difficulty
// tier. Tunables are per-row data, not deploy-time flags.
type AssessmentTemplate struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"`
	SkillID              string    `gorm:"size:36;not null;index" json:"skill_id"`
	Skill                Skill     `gorm:"foreignKey:SkillID" json:"skill,omitempty"`
	Tier                 string    `gorm:"size:20;not null" json:"tier"` // 'foundation', 'developer', 'advanced', 'expert'
	QuestionCount        int       `gorm:"not null" json:"question_count"`
	TimeBudgetMinutes    int       `gorm:"not null" json:"time_budget_minutes"`
	PassingFraction      float64   `gorm:"type:decimal(4,3);default:0.70" json:"passing_fraction"`
	ExcellenceFraction   float64   `gorm:"type:decimal(4,3);default:0.85" json:"excellence_fraction"`
	RetakeCost           int       `gorm:"default:0" json:"retake_cost"`
	UnlockMinEngagements int       `gorm:"default:0" json:"unlock_min_engagements"`
	Published            bool      `gorm:"default:false" json:"published"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName specifies the table name for AssessmentTemplate model.
func (AssessmentTemplate) TableName() string {
	return "assessment_templates"
}

// Difficulty tier constants.
const (
	TierFoundation = "foundation"
	TierDeveloper  = "developer"
	TierAdvanced   = "advanced"
	TierExpert     = "expert"
)

// TimeBudget returns the template time budget as a duration.
func (t *AssessmentTemplate) TimeBudget() time.Duration {
	return time.Duration(t.TimeBudgetMinutes) * time.Minute
}

// Question is a four-option multiple-choice question owned by a template.
// Immutable once the template is published.
type Question struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	TemplateID    string    `gorm:"size:36;not null;index" json:"template_id"`
	Prompt        string    `gorm:"type:text;not null" json:"prompt"`
	OptionA       string    `gorm:"type:text;not null" json:"option_a"`
	OptionB       string    `gorm:"type:text;not null" json:"option_b"`
	OptionC       string    `gorm:"type:text;not null" json:"option_c"`
	OptionD       string    `gorm:"type:text;not null" json:"option_d"`
	CorrectLetter string    `gorm:"size:1;not null" json:"-"` // never serialized to takers
	Explanation   string    `gorm:"type:text" json:"explanation,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for Question model.
func (Question) TableName() string {
	return "questions"
}

// Option letters.
const (
	LetterA = "A"
	LetterB = "B"
	LetterC = "C"
	LetterD = "D"
)

// ValidLetter reports whether s is one of the four option letters.
func ValidLetter(s string) bool {
	switch s {
	case LetterA, LetterB, LetterC, LetterD:
		return true
	}
	return false
}

// Option returns the option text for the given letter.
func (q *Question) Option(letter string) string {
	switch letter {
	case LetterA:
		return q.OptionA
	case LetterB:
		return q.OptionB
	case LetterC:
		return q.OptionC
	case LetterD:
		return q.OptionD
	}
	return ""
}
