package repository

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/trustwork/trustwork-core/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	// Enable foreign key constraints (SQLite default is off)
	gdb.Exec("PRAGMA foreign_keys = ON")

	db := NewWithGorm(gdb, 3)
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("Failed to auto-migrate tables: %v", err)
	}
	return db
}

// createTestProfile creates a test profile in the database.
func createTestProfile(t *testing.T, db *DB, id, role string, completed int) *models.Profile {
	t.Helper()

	profile := &models.Profile{
		ID:                   id,
		Role:                 role,
		DisplayName:          "User " + id,
		CompletedEngagements: completed,
	}
	if err := db.Create(profile).Error; err != nil {
		t.Fatalf("Failed to create test profile: %v", err)
	}
	return profile
}

// createTestTemplate creates a published template with a question bank.
func createTestTemplate(t *testing.T, db *DB, id string, questionCount, bankSize int) *models.AssessmentTemplate {
	t.Helper()

	skill := &models.Skill{ID: "skill-" + id, Name: "Skill " + id}
	if err := db.Create(skill).Error; err != nil {
		t.Fatalf("Failed to create test skill: %v", err)
	}

	tmpl := &models.AssessmentTemplate{
		ID:                 id,
		SkillID:            skill.ID,
		Tier:               models.TierDeveloper,
		QuestionCount:      questionCount,
		TimeBudgetMinutes:  40,
		PassingFraction:    0.70,
		ExcellenceFraction: 0.85,
		RetakeCost:         10,
		Published:          true,
	}
	if err := db.Create(tmpl).Error; err != nil {
		t.Fatalf("Failed to create test template: %v", err)
	}

	for i := 0; i < bankSize; i++ {
		q := &models.Question{
			ID:            fmt.Sprintf("%s-q%03d", id, i),
			TemplateID:    id,
			Prompt:        fmt.Sprintf("Question %d", i),
			OptionA:       "a",
			OptionB:       "b",
			OptionC:       "c",
			OptionD:       "d",
			CorrectLetter: models.LetterA,
		}
		if err := db.Create(q).Error; err != nil {
			t.Fatalf("Failed to create test question: %v", err)
		}
	}
	return tmpl
}

// createTestAttempt creates an in-progress attempt with materialized slots.
func createTestAttempt(t *testing.T, repo *AttemptRepository, id, userID, templateID string, slots int) *models.Attempt {
	t.Helper()

	now := time.Now().UTC()
	attempt := &models.Attempt{
		ID:         id,
		UserID:     userID,
		TemplateID: templateID,
		State:      models.AttemptInProgress,
		StartedAt:  now,
		DeadlineAt: now.Add(40 * time.Minute),
		Version:    1,
	}
	questions := make([]models.AttemptQuestion, 0, slots)
	for i := 0; i < slots; i++ {
		questions = append(questions, models.AttemptQuestion{
			ID:          fmt.Sprintf("%s-slot%d", id, i),
			AttemptID:   id,
			Ordinal:     i,
			QuestionID:  fmt.Sprintf("%s-q%03d", templateID, i),
			OptionOrder: "ABCD",
		})
	}
	if err := repo.Create(attempt, questions); err != nil {
		t.Fatalf("Failed to create test attempt: %v", err)
	}
	return attempt
}

// createTestAssignment creates an assignment in the given status.
func createTestAssignment(t *testing.T, repo *AssignmentRepository, id, employerID, status string) *models.Assignment {
	t.Helper()

	assignment := &models.Assignment{
		ID:          id,
		EmployerID:  employerID,
		Title:       "Assignment " + id,
		Description: "Test assignment",
		BudgetMin:   100,
		BudgetMax:   500,
		Status:      status,
		Version:     1,
	}
	if err := repo.Create(assignment); err != nil {
		t.Fatalf("Failed to create test assignment: %v", err)
	}
	return assignment
}

// createTestApplication creates an application in the given status.
func createTestApplication(t *testing.T, repo *ApplicationRepository, id, assignmentID, applicantID, status string) *models.Application {
	t.Helper()

	application := &models.Application{
		ID:           id,
		AssignmentID: assignmentID,
		ApplicantID:  applicantID,
		Proposal:     "I can do this",
		BidAmount:    200,
		DurationDays: 14,
		Status:       status,
	}
	if err := repo.Create(application); err != nil {
		t.Fatalf("Failed to create test application: %v", err)
	}
	return application
}
