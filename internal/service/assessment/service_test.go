package assessment

import (
	"context"
	"fmt"
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
	"github.com/trustwork/trustwork-core/internal/service/ledger"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

type fixture struct {
	db          *repository.DB
	svc         *Service
	ledger      *ledger.Service
	attempts    *repository.AttemptRepository
	assignments *repository.AssignmentRepository
	clk         *clock.Fake
}

func testRules() config.RulesConfig {
	return config.RulesConfig{
		ReviewWindowDays:    30,
		CooldownDays:        7,
		VoucherTTLDays:      30,
		DefaultMaxRevisions: 2,
		ReviewTextMin:       100,
		ReviewTextMax:       500,
		CancelReasonMin:     10,
		CancelReasonMax:     500,
		TxMaxRetries:        3,
	}
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
	idGen := clock.NewSeqGen("id")
	log := logger.NewNop()

	credits := repository.NewCreditRepository(db)
	ledgerSvc := ledger.NewService(db, credits, clk, idGen, log)
	attempts := repository.NewAttemptRepository(db)
	assignments := repository.NewAssignmentRepository(db)

	svc := NewService(
		db, attempts,
		repository.NewTemplateRepository(db),
		repository.NewProfileRepository(db),
		assignments,
		ledgerSvc, NopUnlockCache{}, events.NopPublisher{},
		clk, idGen, testRules(), log,
	)
	return &fixture{db: db, svc: svc, ledger: ledgerSvc, attempts: attempts, assignments: assignments, clk: clk}
}

func (f *fixture) seedProfile(t *testing.T, id, role string, completed int) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Profile{
		ID: id, Role: role, DisplayName: "User " + id, CompletedEngagements: completed,
	}).Error)
}

// seedTemplate creates a published template whose bank answers are all A.
func (f *fixture) seedTemplate(t *testing.T, id string, count, bank, unlockMin int) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Skill{ID: "skill-" + id, Name: "Skill " + id}).Error)
	require.NoError(t, f.db.Create(&models.AssessmentTemplate{
		ID:                   id,
		SkillID:              "skill-" + id,
		Tier:                 models.TierDeveloper,
		QuestionCount:        count,
		TimeBudgetMinutes:    40,
		PassingFraction:      0.70,
		ExcellenceFraction:   0.85,
		RetakeCost:           10,
		UnlockMinEngagements: unlockMin,
		Published:            true,
	}).Error)
	for i := 0; i < bank; i++ {
		require.NoError(t, f.db.Create(&models.Question{
			ID:         fmt.Sprintf("%s-q%03d", id, i),
			TemplateID: id,
			Prompt:     fmt.Sprintf("Question %d", i),
			OptionA:    "a", OptionB: "b", OptionC: "c", OptionD: "d",
			CorrectLetter: models.LetterA,
		}).Error)
	}
}

// answer fills the first correct slots with the right letter and the rest
// with a wrong one.
func (f *fixture) answer(t *testing.T, userID, attemptID string, total, correct int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < total; i++ {
		letter := models.LetterA
		if i >= correct {
			letter = models.LetterB
		}
		require.NoError(t, f.svc.Answer(ctx, userID, attemptID, i, letter))
	}
}

func TestFirstAttemptPassWithExcellence(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)
	startAt := f.clk.Now()

	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Charged, "first attempt is free")
	assert.Len(t, outcome.Attempt.Questions, 10)
	assert.Equal(t, startAt.Add(40*time.Minute), outcome.Attempt.DeadlineAt)

	f.answer(t, "u1", outcome.Attempt.ID, 10, 9)
	f.clk.Advance(12 * time.Minute)

	result, err := f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 90, result.Score)
	assert.Equal(t, models.AttemptPassed, result.Attempt.State)
	require.NotNil(t, result.VoucherIssued, "excellence pass issues a voucher")
	assert.Equal(t, 30, result.VoucherIssued.Percent)
	assert.Equal(t, f.clk.Now().Add(30*24*time.Hour), result.VoucherIssued.ExpiresAt)

	balance, err := f.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Balance, "passing costs nothing")

	// Double submit fails the second caller.
	_, err = f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyCompleted), "got %v", err)
}

func TestRetakeChargesWithVoucherDiscount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	// First attempt: excellence pass earns the voucher.
	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	f.answer(t, "u1", outcome.Attempt.ID, 10, 10)
	result, err := f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)
	voucher := result.VoucherIssued
	require.NotNil(t, voucher)

	_, err = f.ledger.Credit(ctx, "u1", 10, "test grant")
	require.NoError(t, err)

	// Cooldown blocks an immediate retake.
	f.clk.Advance(time.Hour)
	_, err = f.svc.Start(ctx, "u1", "tmpl", nil, &voucher.ID)
	assert.True(t, domain.IsCode(err, domain.CodeCooldownActive), "got %v", err)

	f.clk.Advance(7 * 24 * time.Hour)
	retake, err := f.svc.Start(ctx, "u1", "tmpl", nil, &voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, retake.Charged, "30%% off 10 floors to 7")
	require.NotNil(t, retake.NewBalance)
	assert.Equal(t, 3, *retake.NewBalance)

	// The voucher is single-use.
	err = f.db.WithTransaction(ctx, func(tx *repository.DB) error {
		_, _, err := f.ledger.RedeemAndDebitTx(tx, "u1", &voucher.ID, 10, "assessment retake")
		return err
	})
	assert.True(t, domain.IsCode(err, domain.CodeVoucherAlreadyRedeemed), "got %v", err)
}

func TestRetakeWithoutFundsFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	f.answer(t, "u1", outcome.Attempt.ID, 10, 2)
	_, err = f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)

	f.clk.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	assert.True(t, domain.IsCode(err, domain.CodeInsufficientFunds), "got %v", err)
}

func TestIntegrityVoid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	f.clk.Advance(3 * time.Minute)

	voided, err := f.svc.SignalIntegrityEvent(ctx, "u1", outcome.Attempt.ID, models.IntegrityVisibilityLost)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptVoidedForIntegrity, voided.State)
	assert.Nil(t, voided.Score, "no scoring on an integrity void")
	require.NotNil(t, voided.IntegrityReason)
	assert.Equal(t, models.IntegrityVisibilityLost, *voided.IntegrityReason)

	_, err = f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	assert.True(t, domain.IsCode(err, domain.CodeIntegrityVoided), "got %v", err)

	// Cooldown applies: denied within 7 days.
	f.clk.Advance(24 * time.Hour)
	elig, err := f.svc.CanAttempt(ctx, "u1", "tmpl")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonCooldownActive, elig.Reason)
	require.NotNil(t, elig.NextAllowedAt)

	f.clk.Set(elig.NextAllowedAt.Add(time.Second))
	elig, err = f.svc.CanAttempt(ctx, "u1", "tmpl")
	require.NoError(t, err)
	assert.True(t, elig.Allowed)
}

func TestEligibilityGates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "locked", models.RoleJobSeeker, 1)
	f.seedProfile(t, "boss", models.RoleEmployer, 0)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	elig, err := f.svc.CanAttempt(ctx, "locked", "tmpl")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonUnlockNotMet, elig.Reason)

	_, err = f.svc.Start(ctx, "locked", "tmpl", nil, nil)
	assert.True(t, domain.IsCode(err, domain.CodeUnlockNotMet), "got %v", err)

	// Employers are exempt from gating.
	elig, err = f.svc.CanAttempt(ctx, "boss", "tmpl")
	require.NoError(t, err)
	assert.True(t, elig.Allowed)
	assert.Equal(t, ReasonExempt, elig.Reason)
}

func TestSingleInProgressAttempt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	_, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)

	elig, err := f.svc.CanAttempt(ctx, "u1", "tmpl")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonAttemptInProgress, elig.Reason)

	_, err = f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	assert.True(t, domain.IsCode(err, domain.CodeIllegalTransition), "got %v", err)
}

func TestEmployerBoundBySingleAttemptRule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "boss", models.RoleEmployer, 0)
	f.seedTemplate(t, "tmpl", 10, 12, 3)
	_, err := f.ledger.Credit(ctx, "boss", 100, "test grant")
	require.NoError(t, err)

	outcome, err := f.svc.Start(ctx, "boss", "tmpl", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Charged)

	// The employer exemption covers unlock and cooldown only; one attempt
	// per user and template stays the rule.
	elig, err := f.svc.CanAttempt(ctx, "boss", "tmpl")
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, ReasonAttemptInProgress, elig.Reason)

	_, err = f.svc.Start(ctx, "boss", "tmpl", nil, nil)
	assert.True(t, domain.IsCode(err, domain.CodeIllegalTransition), "got %v", err)

	var open int64
	require.NoError(t, f.db.Model(&models.Attempt{}).
		Where("user_id = ? AND state = ?", "boss", models.AttemptInProgress).
		Count(&open).Error)
	assert.EqualValues(t, 1, open)

	balance, err := f.ledger.Balance(ctx, "boss")
	require.NoError(t, err)
	assert.Equal(t, 100, balance.Balance, "the refused start charges nothing")
}

func TestUnpublishedTemplateBlocksEveryone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "boss", models.RoleEmployer, 0)
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	require.NoError(t, f.db.Create(&models.Skill{ID: "skill-draft", Name: "Draft Skill"}).Error)
	require.NoError(t, f.db.Create(&models.AssessmentTemplate{
		ID: "draft", SkillID: "skill-draft", Tier: models.TierDeveloper,
		QuestionCount: 10, TimeBudgetMinutes: 40,
		PassingFraction: 0.70, ExcellenceFraction: 0.85,
	}).Error)

	for _, user := range []string{"boss", "u1"} {
		elig, err := f.svc.CanAttempt(ctx, user, "draft")
		require.NoError(t, err)
		assert.False(t, elig.Allowed, "user %s", user)
		assert.Equal(t, ReasonNotPublished, elig.Reason)

		_, err = f.svc.Start(ctx, user, "draft", nil, nil)
		assert.True(t, domain.IsCode(err, domain.CodeValidationFailed), "user %s: got %v", user, err)
	}
}

func TestTimeoutScoresExistingAnswers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	deadline := outcome.Attempt.DeadlineAt
	f.answer(t, "u1", outcome.Attempt.ID, 10, 8)

	f.clk.Advance(41 * time.Minute)

	// Answers after the deadline are refused; the attempt resolves lazily.
	err = f.svc.Answer(ctx, "u1", outcome.Attempt.ID, 0, models.LetterA)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyCompleted), "got %v", err)

	attempt, err := f.svc.Get(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPassed, attempt.State, "80%% clears the 70%% threshold")
	require.NotNil(t, attempt.Score)
	assert.Equal(t, 80, *attempt.Score)
	require.NotNil(t, attempt.CompletedAt)
	assert.Equal(t, deadline, *attempt.CompletedAt, "completed-at is the deadline, not the observation instant")
}

func TestTimeoutBelowThresholdStaysTimedOut(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	f.answer(t, "u1", outcome.Attempt.ID, 10, 3)
	f.clk.Advance(41 * time.Minute)

	result, err := f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 30, result.Score)
	assert.Equal(t, models.AttemptTimedOut, result.Attempt.State)
	assert.Nil(t, result.VoucherIssued)
}

func TestCanApply(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedProfile(t, "boss", models.RoleEmployer, 0)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	tmplID := "tmpl"
	override := 0.95
	gated := &models.Assignment{
		ID: "asg-gated", EmployerID: "boss", Title: "Gated", Status: models.AssignmentOpen,
		RequiredTemplateID: &tmplID, Version: 1,
	}
	strict := &models.Assignment{
		ID: "asg-strict", EmployerID: "boss", Title: "Strict", Status: models.AssignmentOpen,
		RequiredTemplateID: &tmplID, PassingOverride: &override, Version: 1,
	}
	open := &models.Assignment{
		ID: "asg-open", EmployerID: "boss", Title: "Ungated", Status: models.AssignmentOpen, Version: 1,
	}
	require.NoError(t, f.assignments.Create(gated))
	require.NoError(t, f.assignments.Create(strict))
	require.NoError(t, f.assignments.Create(open))

	// No required template: allowed.
	decision, err := f.svc.CanApply(ctx, "u1", "asg-open")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonNoGate, decision.Reason)

	// Owning employer: exempt.
	decision, err = f.svc.CanApply(ctx, "boss", "asg-gated")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonExempt, decision.Reason)

	// Never passed: denied.
	decision, err = f.svc.CanApply(ctx, "u1", "asg-gated")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNotPassed, decision.Reason)

	// Pass at 90.
	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)
	f.answer(t, "u1", outcome.Attempt.ID, 10, 9)
	_, err = f.svc.Submit(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)

	decision, err = f.svc.CanApply(ctx, "u1", "asg-gated")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// The gig override raises the bar above the user's best score.
	decision, err = f.svc.CanApply(ctx, "u1", "asg-strict")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestQuestionSetSurvivesResume(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedProfile(t, "u1", models.RoleJobSeeker, 5)
	f.seedTemplate(t, "tmpl", 10, 12, 3)

	outcome, err := f.svc.Start(ctx, "u1", "tmpl", nil, nil)
	require.NoError(t, err)

	first, err := f.svc.Get(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)
	second, err := f.svc.Get(ctx, "u1", outcome.Attempt.ID)
	require.NoError(t, err)

	require.Equal(t, len(first.Questions), len(second.Questions))
	for i := range first.Questions {
		assert.Equal(t, first.Questions[i].QuestionID, second.Questions[i].QuestionID)
		assert.Equal(t, first.Questions[i].OptionOrder, second.Questions[i].OptionOrder)
	}

	// Another user cannot read it.
	f.seedProfile(t, "u2", models.RoleJobSeeker, 5)
	_, err = f.svc.Get(ctx, "u2", outcome.Attempt.ID)
	assert.True(t, domain.IsCode(err, domain.CodeUnauthorized), "got %v", err)
}
