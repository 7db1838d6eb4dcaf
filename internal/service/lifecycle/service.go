// Package lifecycle owns the assignment state machine and the application
// sub-lifecycle: submit, view, accept with transactional mass-reject of
// peers, reject and withdraw. Every accepted transition appends a status
// history entry in the same transaction.
package lifecycle

import (
	"context"

	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/events"
	"github.com/trustwork/trustwork-core/internal/metrics"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/internal/service/assessment"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Gate is the unlock gate consulted before an application is accepted for
// submission.
type Gate interface {
	CanApply(ctx context.Context, userID, assignmentID string) (*assessment.Decision, error)
}

// Service drives the assignment and application lifecycles.
type Service struct {
	db           *repository.DB
	assignments  *repository.AssignmentRepository
	applications *repository.ApplicationRepository
	profiles     *repository.ProfileRepository
	milestones   *repository.MilestoneRepository
	gate         Gate
	publisher    events.Publisher
	clock        clock.Clock
	idGen        clock.IDGen
	rules        config.RulesConfig
	log          *logger.Logger
}

// NewService creates a new lifecycle service.
func NewService(
	db *repository.DB,
	assignments *repository.AssignmentRepository,
	applications *repository.ApplicationRepository,
	profiles *repository.ProfileRepository,
	milestones *repository.MilestoneRepository,
	gate Gate,
	publisher events.Publisher,
	clk clock.Clock,
	idGen clock.IDGen,
	rules config.RulesConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		db:           db,
		assignments:  assignments,
		applications: applications,
		profiles:     profiles,
		milestones:   milestones,
		gate:         gate,
		publisher:    publisher,
		clock:        clk,
		idGen:        idGen,
		rules:        rules,
		log:          log,
	}
}

// allowedTransitions is the assignment transition table. Self-transitions
// are treated as no-ops by the operations themselves.
var allowedTransitions = map[string][]string{
	models.AssignmentOpen:       {models.AssignmentInProgress, models.AssignmentCancelled},
	models.AssignmentInProgress: {models.AssignmentCompleted, models.AssignmentCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CreateAssignment creates an open assignment owned by an employer.
func (s *Service) CreateAssignment(ctx context.Context, actorID string, assignment *models.Assignment) (*models.Assignment, error) {
	profile, err := s.profiles.GetByID(actorID)
	if err != nil {
		return nil, err
	}
	if !profile.IsEmployer() {
		return nil, domain.E(domain.CodeUnauthorized, "only employers create assignments")
	}

	assignment.ID = s.idGen.NewID()
	assignment.EmployerID = actorID
	assignment.Status = models.AssignmentOpen
	assignment.Version = 1
	if err := s.assignments.Create(assignment); err != nil {
		return nil, err
	}

	s.log.Info().Str("assignment", assignment.ID).Str("employer", actorID).Msg("Assignment created")
	return assignment, nil
}

// transition moves an assignment between statuses, appending history and
// recording metrics. mutate applies the status-specific field changes; it
// runs after the transition is validated.
func (s *Service) transition(tx *repository.DB, assignment *models.Assignment, to, actorID, reason string, mutate func(*models.Assignment)) error {
	from := assignment.Status
	if from == to {
		return nil // no-op self transition
	}
	if !transitionAllowed(from, to) {
		return domain.E(domain.CodeIllegalTransition, "assignment %s cannot move %s -> %s", assignment.ID, from, to)
	}

	mutate(assignment)
	assignment.Status = to
	assignments := s.assignments.WithTx(tx)
	if err := assignments.UpdateWithVersion(assignment); err != nil {
		return err
	}
	if err := assignments.AppendHistory(&models.StatusHistory{
		ID:           s.idGen.NewID(),
		AssignmentID: assignment.ID,
		FromStatus:   from,
		ToStatus:     to,
		ActorID:      actorID,
		Reason:       reason,
		CreatedAt:    s.clock.Now(),
	}); err != nil {
		return err
	}

	metrics.RecordTransition(from, to)
	return nil
}

// StartWork moves an open assignment to in-progress, assigns the accepted
// applicant as worker, and atomically rejects every other pending
// application. Employer only.
func (s *Service) StartWork(ctx context.Context, actorID, assignmentID, applicationID string) (*models.Assignment, error) {
	var assignment *models.Assignment
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		assignment, err = s.startWorkTx(tx, actorID, assignmentID, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.AssignmentStatus, assignment.ID, actorID)
	return assignment, nil
}

func (s *Service) startWorkTx(tx *repository.DB, actorID, assignmentID, applicationID string) (*models.Assignment, error) {
	assignment, err := s.assignments.WithTx(tx).GetByID(assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.EmployerID != actorID {
		return nil, domain.E(domain.CodeUnauthorized, "only the owning employer starts work")
	}

	application, err := s.applications.WithTx(tx).GetByID(applicationID)
	if err != nil {
		return nil, err
	}
	if application.AssignmentID != assignmentID {
		return nil, domain.E(domain.CodeValidationFailed, "application %s does not belong to assignment %s", applicationID, assignmentID)
	}

	// Idempotence: repeating the accepted call returns the same entity.
	if assignment.Status == models.AssignmentInProgress &&
		assignment.WorkerID != nil && *assignment.WorkerID == application.ApplicantID &&
		application.Status == models.ApplicationAccepted {
		return assignment, nil
	}

	if application.Status != models.ApplicationPending && application.Status != models.ApplicationViewed {
		return nil, domain.E(domain.CodeIllegalTransition, "application %s is %s, not acceptable", applicationID, application.Status)
	}

	now := s.clock.Now()
	worker := application.ApplicantID
	if err := s.transition(tx, assignment, models.AssignmentInProgress, actorID, "application accepted", func(a *models.Assignment) {
		a.WorkerID = &worker
		a.StartedAt = &now
	}); err != nil {
		return nil, err
	}

	applications := s.applications.WithTx(tx)
	if err := applications.UpdateStatus(applicationID, models.ApplicationAccepted, true); err != nil {
		return nil, err
	}
	rejected, err := applications.RejectPeers(assignmentID, applicationID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("assignment", assignmentID).
		Str("worker", worker).
		Int64("peers_rejected", rejected).
		Msg("Work started")
	return assignment, nil
}

// Complete moves an in-progress assignment to completed. Worker only. The
// review window opens at the completion instant, and the worker's
// completed-engagement counter advances.
func (s *Service) Complete(ctx context.Context, actorID, assignmentID string) (*models.Assignment, error) {
	var assignment *models.Assignment
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		assignment, err = s.assignments.WithTx(tx).GetByID(assignmentID)
		if err != nil {
			return err
		}
		if assignment.Status == models.AssignmentCompleted {
			return nil // no-op
		}
		if !transitionAllowed(assignment.Status, models.AssignmentCompleted) {
			return domain.E(domain.CodeIllegalTransition,
				"assignment %s cannot move %s -> %s", assignment.ID, assignment.Status, models.AssignmentCompleted)
		}
		if assignment.WorkerID == nil || *assignment.WorkerID != actorID {
			return domain.E(domain.CodeUnauthorized, "only the assigned worker completes an assignment")
		}

		now := s.clock.Now()
		if err := s.transition(tx, assignment, models.AssignmentCompleted, actorID, "work completed", func(a *models.Assignment) {
			a.CompletedAt = &now
		}); err != nil {
			return err
		}

		return s.profiles.WithTx(tx).IncrementCompletedEngagements(actorID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.AssignmentStatus, assignment.ID, actorID)
	s.log.Info().Str("assignment", assignmentID).Str("worker", actorID).Msg("Assignment completed")
	return assignment, nil
}

// Cancel cancels an open or in-progress assignment. The employer may cancel
// either; the worker may cancel only in-progress work. All non-approved
// milestones are cancelled in the same transaction.
func (s *Service) Cancel(ctx context.Context, actorID, assignmentID, reason string) (*models.Assignment, error) {
	if n := len(reason); n < s.rules.CancelReasonMin || n > s.rules.CancelReasonMax {
		return nil, domain.E(domain.CodeValidationFailed,
			"cancellation reason must be %d-%d characters", s.rules.CancelReasonMin, s.rules.CancelReasonMax)
	}

	var assignment *models.Assignment
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		assignment, err = s.assignments.WithTx(tx).GetByID(assignmentID)
		if err != nil {
			return err
		}
		if assignment.Status == models.AssignmentCancelled {
			return nil // no-op
		}

		isEmployer := assignment.EmployerID == actorID
		isWorker := assignment.WorkerID != nil && *assignment.WorkerID == actorID
		switch assignment.Status {
		case models.AssignmentOpen:
			if !isEmployer {
				return domain.E(domain.CodeUnauthorized, "only the employer cancels an open assignment")
			}
		case models.AssignmentInProgress:
			if !isEmployer && !isWorker {
				return domain.E(domain.CodeUnauthorized, "only participants cancel in-progress work")
			}
		}

		now := s.clock.Now()
		if err := s.transition(tx, assignment, models.AssignmentCancelled, actorID, reason, func(a *models.Assignment) {
			a.CancelledAt = &now
			a.CancellationReason = &reason
		}); err != nil {
			return err
		}

		cancelled, err := s.milestones.WithTx(tx).CancelNonApproved(assignmentID)
		if err != nil {
			return err
		}
		s.log.Info().
			Str("assignment", assignmentID).
			Int64("milestones_cancelled", cancelled).
			Msg("Assignment cancelled")
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.AssignmentStatus, assignment.ID, actorID)
	return assignment, nil
}

// SubmitApplication files a job seeker's application on an open assignment,
// enforcing the unlock gate and the one-application-per-applicant rule.
func (s *Service) SubmitApplication(ctx context.Context, actorID string, application *models.Application) (*models.Application, error) {
	decision, err := s.gate.CanApply(ctx, actorID, application.AssignmentID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, domain.E(domain.CodeUnlockNotMet, "application gated: %s", decision.Reason)
	}

	err = s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		assignment, err := s.assignments.WithTx(tx).GetByID(application.AssignmentID)
		if err != nil {
			return err
		}
		if assignment.Status != models.AssignmentOpen {
			return domain.E(domain.CodeIllegalTransition, "assignment %s is not open for applications", assignment.ID)
		}
		if assignment.EmployerID == actorID {
			return domain.E(domain.CodeValidationFailed, "employers cannot apply to their own assignment")
		}

		existing, err := s.applications.WithTx(tx).GetByAssignmentAndApplicant(application.AssignmentID, actorID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.E(domain.CodeValidationFailed, "applicant already applied to assignment %s", assignment.ID)
		}

		application.ID = s.idGen.NewID()
		application.ApplicantID = actorID
		application.Status = models.ApplicationPending
		application.CreatedAt = s.clock.Now()
		return s.applications.WithTx(tx).Create(application)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("application", application.ID).
		Str("assignment", application.AssignmentID).
		Str("applicant", actorID).
		Msg("Application submitted")
	return application, nil
}

// ViewApplication marks an application viewed by the employer. Idempotent.
func (s *Service) ViewApplication(ctx context.Context, actorID, applicationID string) (*models.Application, error) {
	var application *models.Application
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		application, err = s.applications.WithTx(tx).GetByID(applicationID)
		if err != nil {
			return err
		}
		assignment, err := s.assignments.WithTx(tx).GetByID(application.AssignmentID)
		if err != nil {
			return err
		}
		if assignment.EmployerID != actorID {
			return domain.E(domain.CodeUnauthorized, "only the employer views applications")
		}
		if application.Status != models.ApplicationPending {
			return nil // viewing twice, or a decided application, changes nothing
		}
		application.Status = models.ApplicationViewed
		application.ViewedByEmployer = true
		return s.applications.WithTx(tx).UpdateStatus(applicationID, models.ApplicationViewed, true)
	})
	if err != nil {
		return nil, err
	}
	return application, nil
}

// AcceptApplication accepts one application: it triggers StartWork, which
// also mass-rejects every peer.
func (s *Service) AcceptApplication(ctx context.Context, actorID, applicationID string) (*models.Assignment, error) {
	application, err := s.applications.GetByID(applicationID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.StartWork(ctx, actorID, application.AssignmentID, applicationID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.ApplicationAccepted, applicationID, actorID)
	return assignment, nil
}

// RejectApplication rejects a pending or viewed application. Employer only.
func (s *Service) RejectApplication(ctx context.Context, actorID, applicationID string) (*models.Application, error) {
	return s.decideApplication(ctx, actorID, applicationID, models.ApplicationRejected, false)
}

// WithdrawApplication withdraws the applicant's own pending or viewed
// application.
func (s *Service) WithdrawApplication(ctx context.Context, actorID, applicationID string) (*models.Application, error) {
	return s.decideApplication(ctx, actorID, applicationID, models.ApplicationWithdrawn, true)
}

func (s *Service) decideApplication(ctx context.Context, actorID, applicationID, target string, byApplicant bool) (*models.Application, error) {
	var application *models.Application
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		application, err = s.applications.WithTx(tx).GetByID(applicationID)
		if err != nil {
			return err
		}
		assignment, err := s.assignments.WithTx(tx).GetByID(application.AssignmentID)
		if err != nil {
			return err
		}

		if byApplicant {
			if application.ApplicantID != actorID {
				return domain.E(domain.CodeUnauthorized, "only the applicant withdraws an application")
			}
		} else if assignment.EmployerID != actorID {
			return domain.E(domain.CodeUnauthorized, "only the employer rejects applications")
		}

		// The sole accepted application is frozen once the assignment completes.
		if application.Status == models.ApplicationAccepted {
			if assignment.Status == models.AssignmentCompleted {
				return domain.E(domain.CodeAlreadyCompleted, "application %s is frozen after completion", applicationID)
			}
			return domain.E(domain.CodeIllegalTransition, "application %s was already accepted", applicationID)
		}
		if application.Status != models.ApplicationPending && application.Status != models.ApplicationViewed {
			return domain.E(domain.CodeIllegalTransition, "application %s is %s", applicationID, application.Status)
		}

		application.Status = target
		return s.applications.WithTx(tx).UpdateStatus(applicationID, target, false)
	})
	if err != nil {
		return nil, err
	}
	return application, nil
}

// GetAssignment retrieves an assignment with its applications, milestones
// and history.
func (s *Service) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	return s.assignments.GetByIDFull(id)
}

// ListApplications lists an assignment's applications for its employer.
func (s *Service) ListApplications(ctx context.Context, actorID, assignmentID string) ([]models.Application, error) {
	assignment, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.EmployerID != actorID {
		return nil, domain.E(domain.CodeUnauthorized, "only the employer lists applications")
	}
	return s.applications.ListByAssignment(assignmentID)
}

func (s *Service) publish(ctx context.Context, kind, id, actorID string) {
	if err := s.publisher.Publish(ctx, kind, id, actorID, s.clock.Now()); err != nil {
		s.log.Error().Err(err).Str("kind", kind).Str("id", id).Msg("Failed to publish event")
	}
}
