// Package timeline projects an assignment's history into a single ordered
// event feed: status transitions, application decisions, milestone
// submissions and approvals, and reviews. The projection is stateless and
// rebuilt from stored rows on every read.
package timeline

import (
	"context"
	"sort"
	"time"

	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
)

// Event kinds, in tie-break priority order.
const (
	KindStatusChanged    = "status_changed"
	KindApplicationEvent = "application"
	KindMilestoneEvent   = "milestone"
	KindReviewEvent      = "review"
)

// kindPriority breaks ties between events sharing a timestamp: state
// transitions sort before the side effects they caused.
var kindPriority = map[string]int{
	KindStatusChanged:    0,
	KindApplicationEvent: 1,
	KindMilestoneEvent:   2,
	KindReviewEvent:      3,
}

// Event is one entry in an assignment's projected feed.
type Event struct {
	Kind    string            `json:"kind"`
	At      time.Time         `json:"at"`
	ActorID string            `json:"actor_id,omitempty"`
	RefID   string            `json:"ref_id"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Service builds assignment timelines.
type Service struct {
	assignments *repository.AssignmentRepository
	milestones  *repository.MilestoneRepository
	reviews     *repository.ReviewRepository
	apps        *repository.ApplicationRepository
}

// NewService creates a new timeline service.
func NewService(
	assignments *repository.AssignmentRepository,
	milestones *repository.MilestoneRepository,
	reviews *repository.ReviewRepository,
	apps *repository.ApplicationRepository,
) *Service {
	return &Service{
		assignments: assignments,
		milestones:  milestones,
		reviews:     reviews,
		apps:        apps,
	}
}

// Project assembles the ordered event feed for an assignment.
func (s *Service) Project(ctx context.Context, assignmentID string) ([]Event, error) {
	if _, err := s.assignments.GetByID(assignmentID); err != nil {
		return nil, err
	}

	var feed []Event

	history, err := s.assignments.ListHistory(assignmentID)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		feed = append(feed, Event{
			Kind:    KindStatusChanged,
			At:      h.CreatedAt,
			ActorID: h.ActorID,
			RefID:   h.ID,
			Detail: map[string]string{
				"from":   h.FromStatus,
				"to":     h.ToStatus,
				"reason": h.Reason,
			},
		})
	}

	applications, err := s.apps.ListByAssignment(assignmentID)
	if err != nil {
		return nil, err
	}
	for _, a := range applications {
		if a.Status != models.ApplicationAccepted && a.Status != models.ApplicationRejected {
			continue
		}
		feed = append(feed, Event{
			Kind:    KindApplicationEvent,
			At:      a.UpdatedAt,
			ActorID: a.ApplicantID,
			RefID:   a.ID,
			Detail:  map[string]string{"status": a.Status},
		})
	}

	milestones, err := s.milestones.ListByAssignment(assignmentID)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if m.SubmittedAt != nil {
			feed = append(feed, Event{
				Kind:  KindMilestoneEvent,
				At:    *m.SubmittedAt,
				RefID: m.ID,
				Detail: map[string]string{
					"title":  m.Title,
					"action": "submitted",
				},
			})
		}
		if m.Status == models.MilestoneApproved {
			feed = append(feed, Event{
				Kind:  KindMilestoneEvent,
				At:    m.UpdatedAt,
				RefID: m.ID,
				Detail: map[string]string{
					"title":  m.Title,
					"action": "approved",
				},
			})
		}
	}

	reviews, err := s.reviews.ListByAssignment(assignmentID)
	if err != nil {
		return nil, err
	}
	for _, r := range reviews {
		feed = append(feed, Event{
			Kind:    KindReviewEvent,
			At:      r.CreatedAt,
			ActorID: r.ReviewerID,
			RefID:   r.ID,
			Detail:  map[string]string{"role": r.ReviewerRole},
		})
	}

	sort.SliceStable(feed, func(i, j int) bool {
		if !feed[i].At.Equal(feed[j].At) {
			return feed[i].At.Before(feed[j].At)
		}
		if kindPriority[feed[i].Kind] != kindPriority[feed[j].Kind] {
			return kindPriority[feed[i].Kind] < kindPriority[feed[j].Kind]
		}
		return feed[i].RefID < feed[j].RefID
	})
	return feed, nil
}
