// Package milestone manages per-assignment milestones: creation by the
// employer, submission by the worker, approval and the capped revision
// loop.
package milestone

import (
	"context"

	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/events"
	"github.com/trustwork/trustwork-core/internal/metrics"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Service drives the milestone sub-lifecycle.
type Service struct {
	db          *repository.DB
	milestones  *repository.MilestoneRepository
	assignments *repository.AssignmentRepository
	publisher   events.Publisher
	clock       clock.Clock
	idGen       clock.IDGen
	rules       config.RulesConfig
	log         *logger.Logger
}

// NewService creates a new milestone service.
func NewService(
	db *repository.DB,
	milestones *repository.MilestoneRepository,
	assignments *repository.AssignmentRepository,
	publisher events.Publisher,
	clk clock.Clock,
	idGen clock.IDGen,
	rules config.RulesConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		db:          db,
		milestones:  milestones,
		assignments: assignments,
		publisher:   publisher,
		clock:       clk,
		idGen:       idGen,
		rules:       rules,
		log:         log,
	}
}

// Create adds a milestone to an open or in-progress assignment. Employer
// only. The ordinal is assigned in sequence.
func (s *Service) Create(ctx context.Context, actorID string, milestone *models.Milestone) (*models.Milestone, error) {
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		assignment, err := s.assignments.WithTx(tx).GetByID(milestone.AssignmentID)
		if err != nil {
			return err
		}
		if assignment.EmployerID != actorID {
			return domain.E(domain.CodeUnauthorized, "only the employer creates milestones")
		}
		if assignment.Status != models.AssignmentOpen && assignment.Status != models.AssignmentInProgress {
			return domain.E(domain.CodeIllegalTransition, "assignment %s no longer accepts milestones", assignment.ID)
		}

		ordinal, err := s.milestones.WithTx(tx).NextOrdinal(milestone.AssignmentID)
		if err != nil {
			return err
		}
		milestone.ID = s.idGen.NewID()
		milestone.Ordinal = ordinal
		milestone.Status = models.MilestonePending
		if milestone.MaxRevisions == 0 {
			milestone.MaxRevisions = s.rules.DefaultMaxRevisions
		}
		milestone.Version = 1
		return s.milestones.WithTx(tx).Create(milestone)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("milestone", milestone.ID).
		Str("assignment", milestone.AssignmentID).
		Int("ordinal", milestone.Ordinal).
		Msg("Milestone created")
	return milestone, nil
}

// Submission is a worker's deliverable for a milestone.
type Submission struct {
	Files []string
	Links []string
	Notes string
}

// Submit records the worker's deliverable and moves the milestone to
// submitted. Allowed from pending and from revision_requested; the second
// and later submissions consume a revision.
func (s *Service) Submit(ctx context.Context, actorID, milestoneID string, sub Submission) (*models.Milestone, error) {
	if len(sub.Files) == 0 && len(sub.Links) == 0 {
		return nil, domain.E(domain.CodeValidationFailed, "a submission needs at least one file or link")
	}

	var milestone *models.Milestone
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		milestone, err = s.milestones.WithTx(tx).GetByID(milestoneID)
		if err != nil {
			return err
		}
		assignment, err := s.assignments.WithTx(tx).GetByID(milestone.AssignmentID)
		if err != nil {
			return err
		}
		if assignment.WorkerID == nil || *assignment.WorkerID != actorID {
			return domain.E(domain.CodeUnauthorized, "only the assigned worker submits milestones")
		}
		if assignment.Status != models.AssignmentInProgress {
			return domain.E(domain.CodeIllegalTransition, "assignment %s is not in progress", assignment.ID)
		}

		revision := false
		switch milestone.Status {
		case models.MilestonePending:
		case models.MilestoneRevisionRequested:
			revision = true
			milestone.RevisionCount++
		default:
			return domain.E(domain.CodeIllegalTransition, "milestone %s is %s, not submittable", milestoneID, milestone.Status)
		}

		now := s.clock.Now()
		milestone.Status = models.MilestoneSubmitted
		milestone.SubmissionFiles = models.JoinList(sub.Files)
		milestone.SubmissionLinks = models.JoinList(sub.Links)
		milestone.SubmissionNotes = sub.Notes
		milestone.SubmittedAt = &now
		if err := s.milestones.WithTx(tx).UpdateWithVersion(milestone); err != nil {
			return err
		}

		metrics.MilestoneSubmissionsTotal.WithLabelValues(boolLabel(revision)).Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.MilestoneSubmitted, milestone.ID, actorID)
	return milestone, nil
}

// Approve accepts a submitted milestone. Employer only. Approval is final.
func (s *Service) Approve(ctx context.Context, actorID, milestoneID string) (*models.Milestone, error) {
	var milestone *models.Milestone
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		milestone, err = s.loadForEmployer(tx, actorID, milestoneID)
		if err != nil {
			return err
		}
		if milestone.Status == models.MilestoneApproved {
			return nil // no-op
		}
		if milestone.Status != models.MilestoneSubmitted {
			return domain.E(domain.CodeIllegalTransition, "milestone %s is %s, not approvable", milestoneID, milestone.Status)
		}
		milestone.Status = models.MilestoneApproved
		return s.milestones.WithTx(tx).UpdateWithVersion(milestone)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.MilestoneApproved, milestone.ID, actorID)
	s.log.Info().Str("milestone", milestoneID).Msg("Milestone approved")
	return milestone, nil
}

// RequestRevision sends a submitted milestone back to the worker with
// notes. Employer only; denied once the revision cap is reached.
func (s *Service) RequestRevision(ctx context.Context, actorID, milestoneID, notes string) (*models.Milestone, error) {
	var milestone *models.Milestone
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		milestone, err = s.loadForEmployer(tx, actorID, milestoneID)
		if err != nil {
			return err
		}
		if milestone.Status != models.MilestoneSubmitted {
			return domain.E(domain.CodeIllegalTransition, "milestone %s is %s, revision needs a submission", milestoneID, milestone.Status)
		}
		if milestone.RevisionCount >= milestone.MaxRevisions {
			return domain.E(domain.CodeRevisionsExhausted,
				"milestone %s used all %d revisions", milestoneID, milestone.MaxRevisions)
		}
		milestone.Status = models.MilestoneRevisionRequested
		milestone.ClientNotes = notes
		return s.milestones.WithTx(tx).UpdateWithVersion(milestone)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("milestone", milestoneID).
		Int("revision_count", milestone.RevisionCount).
		Msg("Revision requested")
	return milestone, nil
}

// Get retrieves a milestone.
func (s *Service) Get(ctx context.Context, id string) (*models.Milestone, error) {
	return s.milestones.GetByID(id)
}

// List returns an assignment's milestones in ordinal order.
func (s *Service) List(ctx context.Context, assignmentID string) ([]models.Milestone, error) {
	return s.milestones.ListByAssignment(assignmentID)
}

func (s *Service) loadForEmployer(tx *repository.DB, actorID, milestoneID string) (*models.Milestone, error) {
	milestone, err := s.milestones.WithTx(tx).GetByID(milestoneID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.assignments.WithTx(tx).GetByID(milestone.AssignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.EmployerID != actorID {
		return nil, domain.E(domain.CodeUnauthorized, "only the employer reviews milestones")
	}
	return milestone, nil
}

func (s *Service) publish(ctx context.Context, kind, id, actorID string) {
	if err := s.publisher.Publish(ctx, kind, id, actorID, s.clock.Now()); err != nil {
		s.log.Error().Err(err).Str("kind", kind).Str("id", id).Msg("Failed to publish event")
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
