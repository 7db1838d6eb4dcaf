// Package assessment drives proctored skill-assessment attempts: eligibility
// and cooldown, question materialization, the attempt timer, integrity
// enforcement, scoring, and the unlock gate consulted before applying to a
// gated gig.
package assessment

import (
	"context"
	"time"

	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/events"
	"github.com/trustwork/trustwork-core/internal/metrics"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/internal/service/ledger"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Voucher issued for excellence-grade passes.
const (
	excellenceVoucherPercent = 30
)

// Eligibility reasons returned by CanAttempt and CanApply.
const (
	ReasonOK                = "ok"
	ReasonExempt            = "exempt"
	ReasonNoGate            = "no_gate"
	ReasonUnlockNotMet      = "unlock_not_met"
	ReasonCooldownActive    = "cooldown_active"
	ReasonAttemptInProgress = "attempt_in_progress"
	ReasonNotPublished      = "template_not_published"
	ReasonNotPassed         = "assessment_not_passed"
)

// Eligibility is the CanAttempt decision.
type Eligibility struct {
	Allowed       bool       `json:"allowed"`
	Reason        string     `json:"reason"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`
}

// Decision is the CanApply decision.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Result is the outcome of a scored attempt.
type Result struct {
	Attempt       *models.Attempt `json:"attempt"`
	Passed        bool            `json:"passed"`
	Score         int             `json:"score"`
	VoucherIssued *models.Voucher `json:"voucher_issued,omitempty"`
}

// StartOutcome is the result of starting an attempt, including what the
// retake charge amounted to after any voucher discount.
type StartOutcome struct {
	Attempt    *models.Attempt `json:"attempt"`
	Charged    int             `json:"charged"`
	NewBalance *int            `json:"new_balance,omitempty"`
}

// Service is the assessment engine.
type Service struct {
	db          *repository.DB
	attempts    *repository.AttemptRepository
	templates   *repository.TemplateRepository
	profiles    *repository.ProfileRepository
	assignments *repository.AssignmentRepository
	ledger      *ledger.Service
	cache       UnlockCache
	publisher   events.Publisher
	clock       clock.Clock
	idGen       clock.IDGen
	rules       config.RulesConfig
	log         *logger.Logger
}

// NewService creates a new assessment engine.
func NewService(
	db *repository.DB,
	attempts *repository.AttemptRepository,
	templates *repository.TemplateRepository,
	profiles *repository.ProfileRepository,
	assignments *repository.AssignmentRepository,
	ledgerSvc *ledger.Service,
	cache UnlockCache,
	publisher events.Publisher,
	clk clock.Clock,
	idGen clock.IDGen,
	rules config.RulesConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		db:          db,
		attempts:    attempts,
		templates:   templates,
		profiles:    profiles,
		assignments: assignments,
		ledger:      ledgerSvc,
		cache:       cache,
		publisher:   publisher,
		clock:       clk,
		idGen:       idGen,
		rules:       rules,
		log:         log,
	}
}

// CanAttempt evaluates whether a user may start an attempt at a template.
// Employers are exempt from the unlock and cooldown gates, but the template
// must be published and the single-in-progress-attempt rule binds everyone.
func (s *Service) CanAttempt(ctx context.Context, userID, templateID string) (*Eligibility, error) {
	return s.canAttempt(s.db, userID, templateID)
}

func (s *Service) canAttempt(tx *repository.DB, userID, templateID string) (*Eligibility, error) {
	profile, err := s.profiles.WithTx(tx).GetByID(userID)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.templates.WithTx(tx).GetTemplate(templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.Published {
		return &Eligibility{Allowed: false, Reason: ReasonNotPublished}, nil
	}

	attempts := s.attempts.WithTx(tx)
	inProgress, err := attempts.GetInProgress(userID, templateID)
	if err != nil {
		return nil, err
	}
	if inProgress != nil {
		return &Eligibility{Allowed: false, Reason: ReasonAttemptInProgress}, nil
	}

	if profile.IsEmployer() {
		return &Eligibility{Allowed: true, Reason: ReasonExempt}, nil
	}

	if profile.CompletedEngagements < tmpl.UnlockMinEngagements {
		return &Eligibility{Allowed: false, Reason: ReasonUnlockNotMet}, nil
	}

	now := s.clock.Now()
	cooldown := s.rules.Cooldown()
	recent, err := attempts.LastCompletedSince(userID, templateID, now.Add(-cooldown))
	if err != nil {
		return nil, err
	}
	if recent != nil {
		next := recent.CompletedAt.Add(cooldown)
		return &Eligibility{Allowed: false, Reason: ReasonCooldownActive, NextAllowedAt: &next}, nil
	}

	return &Eligibility{Allowed: true, Reason: ReasonOK}, nil
}

// denialError maps an eligibility denial to a coded error for Start.
func denialError(e *Eligibility) error {
	switch e.Reason {
	case ReasonUnlockNotMet:
		return domain.E(domain.CodeUnlockNotMet, "completed-engagement count below template unlock rule")
	case ReasonCooldownActive:
		return domain.E(domain.CodeCooldownActive, "cooldown active until %s", e.NextAllowedAt)
	case ReasonAttemptInProgress:
		return domain.E(domain.CodeIllegalTransition, "an attempt is already in progress")
	default:
		return domain.E(domain.CodeValidationFailed, "attempt not allowed: %s", e.Reason)
	}
}

// Start begins a proctored attempt. A retake (any prior attempt at the same
// template) is charged the template's retake cost; a supplied voucher is
// redeemed atomically with that debit.
func (s *Service) Start(ctx context.Context, userID, templateID string, assignmentID, voucherID *string) (*StartOutcome, error) {
	var outcome *StartOutcome
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		// Eligibility re-checked inside the transaction.
		elig, err := s.canAttempt(tx, userID, templateID)
		if err != nil {
			return err
		}
		if !elig.Allowed {
			return denialError(elig)
		}

		tmpl, err := s.templates.WithTx(tx).GetTemplate(templateID)
		if err != nil {
			return err
		}

		prior, err := s.attempts.WithTx(tx).CountByUserTemplate(userID, templateID)
		if err != nil {
			return err
		}

		charged := 0
		var newBalance *int
		retake := prior > 0
		if retake && tmpl.RetakeCost > 0 {
			chargedAmt, balance, err := s.ledger.RedeemAndDebitTx(tx, userID, voucherID, tmpl.RetakeCost, "assessment retake")
			if err != nil {
				return err
			}
			charged = chargedAmt
			newBalance = &balance
		}

		now := s.clock.Now()
		attempt := &models.Attempt{
			ID:           s.idGen.NewID(),
			UserID:       userID,
			TemplateID:   templateID,
			AssignmentID: assignmentID,
			State:        models.AttemptInProgress,
			StartedAt:    now,
			DeadlineAt:   now.Add(tmpl.TimeBudget()),
			Version:      1,
		}

		bank, err := s.templates.WithTx(tx).GetQuestions(templateID)
		if err != nil {
			return err
		}
		if len(bank) < tmpl.QuestionCount {
			return domain.E(domain.CodeValidationFailed,
				"template %s bank holds %d questions, needs %d", templateID, len(bank), tmpl.QuestionCount)
		}

		slots := selectQuestions(attempt.ID, bank, tmpl.QuestionCount)
		for i := range slots {
			slots[i].ID = s.idGen.NewID()
		}

		if err := s.attempts.WithTx(tx).Create(attempt, slots); err != nil {
			return err
		}

		retakeLabel := "false"
		if retake {
			retakeLabel = "true"
		}
		metrics.AttemptsStartedTotal.WithLabelValues(templateID, retakeLabel).Inc()

		attempt.Questions = slots
		outcome = &StartOutcome{Attempt: attempt, Charged: charged, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("attempt", outcome.Attempt.ID).
		Str("user", userID).
		Str("template", templateID).
		Time("deadline", outcome.Attempt.DeadlineAt).
		Msg("Attempt started")
	return outcome, nil
}

// Answer records the chosen letter for one question index. Accepted only
// while the attempt is in progress and before its deadline; a later answer
// to the same index overwrites the earlier one.
func (s *Service) Answer(ctx context.Context, actorID, attemptID string, questionIndex int, letter string) error {
	if !models.ValidLetter(letter) {
		return domain.E(domain.CodeValidationFailed, "letter %q is not one of A-D", letter)
	}

	return s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		attempt, err := s.loadOwnAttempt(tx, actorID, attemptID)
		if err != nil {
			return err
		}
		if _, err := s.maybeTimeout(ctx, tx, attempt); err != nil {
			return err
		}
		if err := s.terminalError(attempt); err != nil {
			return err
		}
		if questionIndex < 0 || questionIndex >= len(attempt.Questions) {
			return domain.E(domain.CodeValidationFailed, "question index %d out of range", questionIndex)
		}
		return s.attempts.WithTx(tx).SaveAnswer(attemptID, questionIndex, letter)
	})
}

// SignalIntegrityEvent voids an in-progress attempt on any integrity signal.
// The void is final; no scoring is performed.
func (s *Service) SignalIntegrityEvent(ctx context.Context, actorID, attemptID, kind string) (*models.Attempt, error) {
	if !models.ValidIntegrityKind(kind) {
		return nil, domain.E(domain.CodeValidationFailed, "unknown integrity event kind %q", kind)
	}

	var voided *models.Attempt
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		attempt, err := s.loadOwnAttempt(tx, actorID, attemptID)
		if err != nil {
			return err
		}
		if _, err := s.maybeTimeout(ctx, tx, attempt); err != nil {
			return err
		}
		if err := s.terminalError(attempt); err != nil {
			return err
		}

		now := s.clock.Now()
		attempt.State = models.AttemptVoidedForIntegrity
		attempt.IntegrityReason = &kind
		attempt.CompletedAt = &now
		if err := s.attempts.WithTx(tx).UpdateWithVersion(attempt); err != nil {
			return err
		}

		metrics.IntegrityVoidsTotal.WithLabelValues(attempt.TemplateID, kind).Inc()
		metrics.RecordAttemptCompleted(attempt.TemplateID, attempt.State, now.Sub(attempt.StartedAt), nil)
		voided = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishCompleted(ctx, voided)
	s.log.Warn().
		Str("attempt", voided.ID).
		Str("kind", kind).
		Msg("Attempt voided for integrity")
	return voided, nil
}

// Submit scores an in-progress attempt and decides pass/fail. An excellence
// pass additionally earns a discount voucher.
func (s *Service) Submit(ctx context.Context, actorID, attemptID string) (*Result, error) {
	var result *Result
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		attempt, err := s.loadOwnAttempt(tx, actorID, attemptID)
		if err != nil {
			return err
		}
		timedOut, err := s.maybeTimeout(ctx, tx, attempt)
		if err != nil {
			return err
		}
		if timedOut {
			result = &Result{
				Attempt: attempt,
				Passed:  attempt.State == models.AttemptPassed,
				Score:   *attempt.Score,
			}
			return nil
		}
		if err := s.terminalError(attempt); err != nil {
			return err
		}

		score := Score(attempt.Questions)
		passed := passes(score, attempt.Template.PassingFraction)

		now := s.clock.Now()
		attempt.Score = &score
		attempt.CompletedAt = &now
		if passed {
			attempt.State = models.AttemptPassed
		} else {
			attempt.State = models.AttemptFailed
		}
		if err := s.attempts.WithTx(tx).UpdateWithVersion(attempt); err != nil {
			return err
		}

		result = &Result{Attempt: attempt, Passed: passed, Score: score}
		if passed && passes(score, attempt.Template.ExcellenceFraction) {
			voucher, err := s.ledger.IssueVoucherTx(tx, attempt.UserID, excellenceVoucherPercent, s.rules.VoucherTTL())
			if err != nil {
				return err
			}
			result.VoucherIssued = voucher
		}

		metrics.RecordAttemptCompleted(attempt.TemplateID, attempt.State, now.Sub(attempt.StartedAt), &score)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Passed {
		s.cache.Set(ctx, result.Attempt.UserID, result.Attempt.TemplateID, result.Score)
	}
	s.publishCompleted(ctx, result.Attempt)
	s.log.Info().
		Str("attempt", result.Attempt.ID).
		Str("state", result.Attempt.State).
		Int("score", result.Score).
		Msg("Attempt submitted")
	return result, nil
}

// Get retrieves an attempt for its owner. Correct letters stay hidden while
// the attempt is in progress.
func (s *Service) Get(ctx context.Context, actorID, attemptID string) (*models.Attempt, error) {
	var attempt *models.Attempt
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		attempt, err = s.loadOwnAttempt(tx, actorID, attemptID)
		if err != nil {
			return err
		}
		_, err = s.maybeTimeout(ctx, tx, attempt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// CanApply consults the unlock gate before a user applies to a gig.
func (s *Service) CanApply(ctx context.Context, userID, assignmentID string) (*Decision, error) {
	assignment, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.RequiredTemplateID == nil {
		return &Decision{Allowed: true, Reason: ReasonNoGate}, nil
	}
	if assignment.EmployerID == userID {
		return &Decision{Allowed: true, Reason: ReasonExempt}, nil
	}

	tmpl, err := s.templates.GetTemplate(*assignment.RequiredTemplateID)
	if err != nil {
		return nil, err
	}
	threshold := assignment.PassingFractionFor(tmpl)

	if score, ok := s.cache.Get(ctx, userID, tmpl.ID); ok && passes(score, threshold) {
		return &Decision{Allowed: true, Reason: ReasonOK}, nil
	}

	best, err := s.attempts.BestPassedScore(userID, tmpl.ID)
	if err != nil {
		return nil, err
	}
	if best == nil || !passes(*best, threshold) {
		return &Decision{Allowed: false, Reason: ReasonNotPassed}, nil
	}
	s.cache.Set(ctx, userID, tmpl.ID, *best)
	return &Decision{Allowed: true, Reason: ReasonOK}, nil
}

// loadOwnAttempt loads an attempt and verifies the actor owns it.
func (s *Service) loadOwnAttempt(tx *repository.DB, actorID, attemptID string) (*models.Attempt, error) {
	attempt, err := s.attempts.WithTx(tx).GetByID(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != actorID {
		return nil, domain.E(domain.CodeUnauthorized, "attempt %s does not belong to actor", attemptID)
	}
	return attempt, nil
}

// terminalError translates a terminal attempt state into the coded error a
// further write must fail with.
func (s *Service) terminalError(attempt *models.Attempt) error {
	switch attempt.State {
	case models.AttemptInProgress:
		return nil
	case models.AttemptVoidedForIntegrity:
		return domain.E(domain.CodeIntegrityVoided, "attempt %s was voided for integrity", attempt.ID)
	default:
		return domain.E(domain.CodeAlreadyCompleted, "attempt %s is already %s", attempt.ID, attempt.State)
	}
}

// maybeTimeout lazily observes a passed deadline: the attempt is scored on
// whatever answers exist and pass/fail is decided. A clearing score ends as
// passed; anything else stays timed-out. The deadline, not the observation
// instant, stamps completed-at.
func (s *Service) maybeTimeout(ctx context.Context, tx *repository.DB, attempt *models.Attempt) (bool, error) {
	if attempt.State != models.AttemptInProgress || s.clock.Now().Before(attempt.DeadlineAt) {
		return false, nil
	}

	score := Score(attempt.Questions)
	deadline := attempt.DeadlineAt
	attempt.Score = &score
	attempt.CompletedAt = &deadline
	if passes(score, attempt.Template.PassingFraction) {
		attempt.State = models.AttemptPassed
	} else {
		attempt.State = models.AttemptTimedOut
	}
	if err := s.attempts.WithTx(tx).UpdateWithVersion(attempt); err != nil {
		return false, err
	}
	if attempt.State == models.AttemptPassed && passes(score, attempt.Template.ExcellenceFraction) {
		if _, err := s.ledger.IssueVoucherTx(tx, attempt.UserID, excellenceVoucherPercent, s.rules.VoucherTTL()); err != nil {
			return false, err
		}
	}

	metrics.RecordAttemptCompleted(attempt.TemplateID, attempt.State, deadline.Sub(attempt.StartedAt), &score)
	s.publishCompleted(ctx, attempt)
	s.log.Info().
		Str("attempt", attempt.ID).
		Int("score", score).
		Msg("Attempt timed out")
	return true, nil
}

// publishCompleted emits the attempt.completed event. Best-effort: the
// durable state is already committed.
func (s *Service) publishCompleted(ctx context.Context, attempt *models.Attempt) {
	at := attempt.StartedAt
	if attempt.CompletedAt != nil {
		at = *attempt.CompletedAt
	}
	if err := s.publisher.Publish(ctx, events.AttemptCompleted, attempt.ID, attempt.UserID, at); err != nil {
		s.log.Error().Err(err).Str("attempt", attempt.ID).Msg("Failed to publish attempt.completed")
	}
}
