package review

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/events"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

type fixture struct {
	db       *repository.DB
	svc      *Service
	profiles *repository.ProfileRepository
	clk      *clock.Fake
}

func setup(t *testing.T) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	db := repository.NewWithGorm(gdb, 3)
	require.NoError(t, db.AutoMigrate())

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	profiles := repository.NewProfileRepository(db)
	svc := NewService(
		db,
		repository.NewReviewRepository(db),
		repository.NewAssignmentRepository(db),
		profiles,
		events.NopPublisher{},
		clk, clock.NewSeqGen("id"),
		config.RulesConfig{ReviewWindowDays: 30, ReviewTextMin: 100, ReviewTextMax: 500, TxMaxRetries: 3},
		logger.NewNop(),
	)
	return &fixture{db: db, svc: svc, profiles: profiles, clk: clk}
}

// seedCompleted creates a completed assignment between boss and seeker-a,
// completed at the fixture clock's current instant.
func (f *fixture) seedCompleted(t *testing.T, id string) {
	t.Helper()
	for _, p := range []models.Profile{
		{ID: "boss", Role: models.RoleEmployer, DisplayName: "Boss"},
		{ID: "seeker-a", Role: models.RoleJobSeeker, DisplayName: "Seeker A"},
	} {
		f.db.FirstOrCreate(&models.Profile{}, p)
	}
	worker := "seeker-a"
	completedAt := f.clk.Now()
	require.NoError(t, f.db.Create(&models.Assignment{
		ID: id, EmployerID: "boss", WorkerID: &worker,
		Title: "Done deal", Status: models.AssignmentCompleted,
		CompletedAt: &completedAt, Version: 1,
	}).Error)
}

func employerInput() Input {
	return Input{
		Categories: map[string]int{
			"quality":         5,
			"communication":   4,
			"deadlines":       5,
			"professionalism": 4,
		},
		Text:      strings.Repeat("The collaboration went well. ", 5),
		Recommend: true,
	}
}

func employeeInput() Input {
	return Input{
		Categories: map[string]int{
			"clarity":             4,
			"responsiveness":      4,
			"payment_reliability": 5,
			"professionalism":     5,
		},
		Text:      strings.Repeat("Payment arrived on schedule. ", 5),
		Recommend: true,
	}
}

func TestReviewWindow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompleted(t, "asg-1")
	completedAt := f.clk.Now()

	// Just inside the window.
	f.clk.Set(completedAt.Add(30*24*time.Hour - time.Second))
	review, err := f.svc.Create(ctx, "boss", "asg-1", employerInput())
	require.NoError(t, err)
	assert.Equal(t, models.ReviewerEmployer, review.ReviewerRole)
	assert.Equal(t, "seeker-a", review.RevieweeID)
	assert.Equal(t, completedAt, review.WindowStart)
	assert.Equal(t, completedAt.Add(30*24*time.Hour), review.WindowEnd)

	// Writing twice is refused: the first review already settled it.
	_, err = f.svc.Create(ctx, "boss", "asg-1", employerInput())
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyCompleted), "got %v", err)

	// The counterpart misses the window.
	f.clk.Set(completedAt.Add(30*24*time.Hour + time.Second))
	elig, err := f.svc.CanReview(ctx, "seeker-a", "asg-1")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonWindowClosed, elig.Reason)

	_, err = f.svc.Create(ctx, "seeker-a", "asg-1", employeeInput())
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed), "got %v", err)
}

func TestReviewRequiresCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&models.Profile{ID: "boss", Role: models.RoleEmployer, DisplayName: "Boss"}).Error)
	worker := "seeker-a"
	require.NoError(t, f.db.Create(&models.Assignment{
		ID: "asg-open", EmployerID: "boss", WorkerID: &worker,
		Title: "Still running", Status: models.AssignmentInProgress, Version: 1,
	}).Error)

	elig, err := f.svc.CanReview(ctx, "boss", "asg-open")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonNotCompleted, elig.Reason)

	_, err = f.svc.Create(ctx, "boss", "asg-open", employerInput())
	assert.True(t, domain.IsCode(err, domain.CodeIllegalTransition), "got %v", err)
}

func TestReviewParticipantsOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompleted(t, "asg-1")

	elig, err := f.svc.CanReview(ctx, "stranger", "asg-1")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonNotParticipant, elig.Reason)

	_, err = f.svc.Create(ctx, "stranger", "asg-1", employerInput())
	assert.True(t, domain.IsCode(err, domain.CodeUnauthorized), "got %v", err)
}

func TestReviewValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompleted(t, "asg-1")

	short := employerInput()
	short.Text = "too short"
	_, err := f.svc.Create(ctx, "boss", "asg-1", short)
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed), "got %v", err)

	// The worker's category set differs from the employer's.
	wrongSet := employerInput()
	_, err = f.svc.Create(ctx, "seeker-a", "asg-1", wrongSet)
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed), "got %v", err)

	outOfRange := employerInput()
	outOfRange.Categories["quality"] = 6
	_, err = f.svc.Create(ctx, "boss", "asg-1", outOfRange)
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed), "got %v", err)

	// Text bounds count characters, not bytes: 60 two-byte runes stay short
	// of the minimum even though the byte length clears it.
	shortRunes := employerInput()
	shortRunes.Text = strings.Repeat("é", 60)
	_, err = f.svc.Create(ctx, "boss", "asg-1", shortRunes)
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed), "got %v", err)

	// 200 three-byte runes exceed the byte maximum yet fit the bound.
	wideRunes := employerInput()
	wideRunes.Text = strings.Repeat("承", 200)
	_, err = f.svc.Create(ctx, "boss", "asg-1", wideRunes)
	assert.NoError(t, err)
}

func TestOverallRoundingAndReputation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompleted(t, "asg-1")

	// 5+4+5+4 = 18, mean 4.5.
	review, err := f.svc.Create(ctx, "boss", "asg-1", employerInput())
	require.NoError(t, err)
	assert.Equal(t, 4.5, review.Overall)

	profile, err := f.profiles.GetByID("seeker-a")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.RatingCount)
	assert.InDelta(t, 4.5, profile.AvgRating, 1e-9)

	// A second engagement folds into the running mean.
	f.seedCompleted(t, "asg-2")
	input := employerInput()
	input.Categories = map[string]int{
		"quality": 3, "communication": 3, "deadlines": 3, "professionalism": 3,
	}
	second, err := f.svc.Create(ctx, "boss", "asg-2", input)
	require.NoError(t, err)
	assert.Equal(t, 3.0, second.Overall)

	profile, err = f.profiles.GetByID("seeker-a")
	require.NoError(t, err)
	assert.Equal(t, 2, profile.RatingCount)
	assert.InDelta(t, 3.75, profile.AvgRating, 1e-9)

	received, err := f.svc.ListByReviewee(ctx, "seeker-a")
	require.NoError(t, err)
	assert.Len(t, received, 2)
}

func TestBilateralReviews(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCompleted(t, "asg-1")

	_, err := f.svc.Create(ctx, "boss", "asg-1", employerInput())
	require.NoError(t, err)
	worker, err := f.svc.Create(ctx, "seeker-a", "asg-1", employeeInput())
	require.NoError(t, err)
	assert.Equal(t, models.ReviewerEmployee, worker.ReviewerRole)
	assert.Equal(t, "boss", worker.RevieweeID)

	both, err := f.svc.ListByAssignment(ctx, "asg-1")
	require.NoError(t, err)
	assert.Len(t, both, 2)
}
