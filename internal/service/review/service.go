// Package review implements the bilateral post-engagement review exchange:
// eligibility inside the fixed window, role-specific category ratings and
// the running reputation mean on the reviewee's profile.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/events"
	"github.com/trustwork/trustwork-core/internal/metrics"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Eligibility denial reasons.
const (
	ReasonOK             = "ok"
	ReasonNotCompleted   = "assignment_not_completed"
	ReasonNotParticipant = "not_a_participant"
	ReasonWindowClosed   = "window_closed"
	ReasonAlreadyWritten = "already_reviewed"
)

// Eligibility is the answer to "may this actor review this assignment now".
type Eligibility struct {
	Allowed   bool       `json:"allowed"`
	Reason    string     `json:"reason"`
	WindowEnd *time.Time `json:"window_end,omitempty"`
}

// Input carries the reviewer-provided fields of a new review.
type Input struct {
	Categories map[string]int `json:"categories"`
	Text       string         `json:"text"`
	Recommend  bool           `json:"recommend"`
}

// Service drives review eligibility and creation.
type Service struct {
	db          *repository.DB
	reviews     *repository.ReviewRepository
	assignments *repository.AssignmentRepository
	profiles    *repository.ProfileRepository
	publisher   events.Publisher
	clock       clock.Clock
	idGen       clock.IDGen
	rules       config.RulesConfig
	log         *logger.Logger
}

// NewService creates a new review service.
func NewService(
	db *repository.DB,
	reviews *repository.ReviewRepository,
	assignments *repository.AssignmentRepository,
	profiles *repository.ProfileRepository,
	publisher events.Publisher,
	clk clock.Clock,
	idGen clock.IDGen,
	rules config.RulesConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		db:          db,
		reviews:     reviews,
		assignments: assignments,
		profiles:    profiles,
		publisher:   publisher,
		clock:       clk,
		idGen:       idGen,
		rules:       rules,
		log:         log,
	}
}

// CanReview reports whether actorID may review the assignment right now.
func (s *Service) CanReview(ctx context.Context, actorID, assignmentID string) (*Eligibility, error) {
	assignment, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, err
	}
	return s.eligibility(actorID, assignment)
}

func (s *Service) eligibility(actorID string, assignment *models.Assignment) (*Eligibility, error) {
	if assignment.Status != models.AssignmentCompleted || assignment.CompletedAt == nil {
		return &Eligibility{Reason: ReasonNotCompleted}, nil
	}
	if _, _, err := s.participants(actorID, assignment); err != nil {
		return &Eligibility{Reason: ReasonNotParticipant}, nil
	}

	windowEnd := assignment.CompletedAt.Add(s.rules.ReviewWindow())
	if s.clock.Now().After(windowEnd) {
		return &Eligibility{Reason: ReasonWindowClosed, WindowEnd: &windowEnd}, nil
	}

	existing, err := s.reviews.GetByAssignmentAndReviewer(assignment.ID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Eligibility{Reason: ReasonAlreadyWritten, WindowEnd: &windowEnd}, nil
	}
	return &Eligibility{Allowed: true, Reason: ReasonOK, WindowEnd: &windowEnd}, nil
}

// participants resolves the reviewer role and the counterpart for an actor
// on an assignment.
func (s *Service) participants(actorID string, assignment *models.Assignment) (role, revieweeID string, err error) {
	switch {
	case assignment.EmployerID == actorID:
		if assignment.WorkerID == nil {
			return "", "", domain.E(domain.CodeValidationFailed, "assignment %s has no worker", assignment.ID)
		}
		return models.ReviewerEmployer, *assignment.WorkerID, nil
	case assignment.WorkerID != nil && *assignment.WorkerID == actorID:
		return models.ReviewerEmployee, assignment.EmployerID, nil
	default:
		return "", "", domain.E(domain.CodeUnauthorized, "actor is not a participant of assignment %s", assignment.ID)
	}
}

// Create files the actor's review of their counterpart and folds the
// overall rating into the reviewee's running reputation mean.
func (s *Service) Create(ctx context.Context, actorID, assignmentID string, input Input) (*models.Review, error) {
	if n := utf8.RuneCountInString(input.Text); n < s.rules.ReviewTextMin || n > s.rules.ReviewTextMax {
		return nil, domain.E(domain.CodeValidationFailed,
			"review text must be %d-%d characters", s.rules.ReviewTextMin, s.rules.ReviewTextMax)
	}

	var review *models.Review
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		assignment, err := s.assignments.WithTx(tx).GetByID(assignmentID)
		if err != nil {
			return err
		}
		role, revieweeID, err := s.participants(actorID, assignment)
		if err != nil {
			return err
		}

		eligibility, err := s.eligibilityTx(tx, actorID, assignment)
		if err != nil {
			return err
		}
		if !eligibility.Allowed {
			return eligibilityError(eligibility.Reason)
		}

		overall, categories, err := ratedCategories(role, input.Categories)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		review = &models.Review{
			ID:           s.idGen.NewID(),
			AssignmentID: assignmentID,
			ReviewerID:   actorID,
			RevieweeID:   revieweeID,
			ReviewerRole: role,
			Categories:   categories,
			Overall:      overall,
			Text:         input.Text,
			Recommend:    input.Recommend,
			WindowStart:  *assignment.CompletedAt,
			WindowEnd:    assignment.CompletedAt.Add(s.rules.ReviewWindow()),
			CreatedAt:    now,
		}
		if err := s.reviews.WithTx(tx).Create(review); err != nil {
			return err
		}
		return s.profiles.WithTx(tx).ApplyRating(revieweeID, overall)
	})
	if err != nil {
		return nil, err
	}

	metrics.ReviewsCreatedTotal.WithLabelValues(review.ReviewerRole).Inc()
	if err := s.publisher.Publish(ctx, events.ReviewCreated, review.ID, actorID, s.clock.Now()); err != nil {
		s.log.Error().Err(err).Str("review", review.ID).Msg("Failed to publish event")
	}

	s.log.Info().
		Str("review", review.ID).
		Str("assignment", assignmentID).
		Str("role", review.ReviewerRole).
		Float64("overall", review.Overall).
		Msg("Review created")
	return review, nil
}

// eligibilityTx re-checks eligibility inside the write transaction so two
// concurrent submissions cannot both pass the duplicate check.
func (s *Service) eligibilityTx(tx *repository.DB, actorID string, assignment *models.Assignment) (*Eligibility, error) {
	if assignment.Status != models.AssignmentCompleted || assignment.CompletedAt == nil {
		return &Eligibility{Reason: ReasonNotCompleted}, nil
	}
	windowEnd := assignment.CompletedAt.Add(s.rules.ReviewWindow())
	if s.clock.Now().After(windowEnd) {
		return &Eligibility{Reason: ReasonWindowClosed, WindowEnd: &windowEnd}, nil
	}
	existing, err := s.reviews.WithTx(tx).GetByAssignmentAndReviewer(assignment.ID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Eligibility{Reason: ReasonAlreadyWritten, WindowEnd: &windowEnd}, nil
	}
	return &Eligibility{Allowed: true, Reason: ReasonOK, WindowEnd: &windowEnd}, nil
}

func eligibilityError(reason string) error {
	switch reason {
	case ReasonNotCompleted:
		return domain.E(domain.CodeIllegalTransition, "reviews open only after completion")
	case ReasonWindowClosed:
		return domain.E(domain.CodeValidationFailed, "the review window has closed")
	case ReasonAlreadyWritten:
		return domain.E(domain.CodeAlreadyCompleted, "a review was already written for this assignment")
	default:
		return domain.E(domain.CodeUnauthorized, "review not allowed: %s", reason)
	}
}

// ratedCategories validates the role's category set and returns the overall
// rating (mean of the categories, one decimal place) plus the encoded map.
func ratedCategories(role string, ratings map[string]int) (float64, json.RawMessage, error) {
	required := models.CategoriesFor(role)
	if len(ratings) != len(required) {
		return 0, nil, domain.E(domain.CodeValidationFailed,
			"expected ratings for exactly %d categories", len(required))
	}
	sum := 0
	for _, category := range required {
		rating, ok := ratings[category]
		if !ok {
			return 0, nil, domain.E(domain.CodeValidationFailed, "missing rating for %q", category)
		}
		if rating < 1 || rating > 5 {
			return 0, nil, domain.E(domain.CodeValidationFailed, "rating for %q must be 1-5", category)
		}
		sum += rating
	}

	overall := math.Round(10*float64(sum)/float64(len(required))) / 10
	encoded, err := json.Marshal(ratings)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode categories: %w", err)
	}
	return overall, encoded, nil
}

// ListByAssignment returns the reviews written on an assignment.
func (s *Service) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Review, error) {
	return s.reviews.ListByAssignment(assignmentID)
}

// ListByReviewee returns the reviews received by a profile.
func (s *Service) ListByReviewee(ctx context.Context, revieweeID string) ([]models.Review, error) {
	return s.reviews.ListByReviewee(revieweeID)
}
