// Package engagements provides REST API handlers for the engagement
// lifecycle: assignments, applications, milestones, reviews and the
// projected timeline.
package engagements

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trustwork/trustwork-core/internal/api/httperr"
	"github.com/trustwork/trustwork-core/internal/api/middleware"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/service/lifecycle"
	"github.com/trustwork/trustwork-core/internal/service/milestone"
	"github.com/trustwork/trustwork-core/internal/service/review"
	"github.com/trustwork/trustwork-core/internal/service/timeline"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// LifecycleService interface for assignment and application operations.
type LifecycleService interface {
	CreateAssignment(ctx context.Context, actorID string, assignment *models.Assignment) (*models.Assignment, error)
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	Complete(ctx context.Context, actorID, assignmentID string) (*models.Assignment, error)
	Cancel(ctx context.Context, actorID, assignmentID, reason string) (*models.Assignment, error)
	SubmitApplication(ctx context.Context, actorID string, application *models.Application) (*models.Application, error)
	ViewApplication(ctx context.Context, actorID, applicationID string) (*models.Application, error)
	AcceptApplication(ctx context.Context, actorID, applicationID string) (*models.Assignment, error)
	RejectApplication(ctx context.Context, actorID, applicationID string) (*models.Application, error)
	WithdrawApplication(ctx context.Context, actorID, applicationID string) (*models.Application, error)
	ListApplications(ctx context.Context, actorID, assignmentID string) ([]models.Application, error)
}

// MilestoneService interface for milestone operations.
type MilestoneService interface {
	Create(ctx context.Context, actorID string, m *models.Milestone) (*models.Milestone, error)
	Submit(ctx context.Context, actorID, milestoneID string, sub milestone.Submission) (*models.Milestone, error)
	Approve(ctx context.Context, actorID, milestoneID string) (*models.Milestone, error)
	RequestRevision(ctx context.Context, actorID, milestoneID, notes string) (*models.Milestone, error)
	List(ctx context.Context, assignmentID string) ([]models.Milestone, error)
}

// ReviewService interface for review operations.
type ReviewService interface {
	CanReview(ctx context.Context, actorID, assignmentID string) (*review.Eligibility, error)
	Create(ctx context.Context, actorID, assignmentID string, input review.Input) (*models.Review, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Review, error)
	ListByReviewee(ctx context.Context, revieweeID string) ([]models.Review, error)
}

// TimelineService interface for the projected feed.
type TimelineService interface {
	Project(ctx context.Context, assignmentID string) ([]timeline.Event, error)
}

// Handler handles engagement API requests.
type Handler struct {
	lifecycle  LifecycleService
	milestones MilestoneService
	reviews    ReviewService
	timeline   TimelineService
	log        *logger.Logger
}

// NewHandler creates a new engagements handler.
func NewHandler(
	lifecycleSvc *lifecycle.Service,
	milestoneSvc *milestone.Service,
	reviewSvc *review.Service,
	timelineSvc *timeline.Service,
	log *logger.Logger,
) *Handler {
	return &Handler{
		lifecycle:  lifecycleSvc,
		milestones: milestoneSvc,
		reviews:    reviewSvc,
		timeline:   timelineSvc,
		log:        log,
	}
}

// NewHandlerWithInterfaces creates a new engagements handler with interface
// dependencies (useful for testing).
func NewHandlerWithInterfaces(
	lifecycleSvc LifecycleService,
	milestoneSvc MilestoneService,
	reviewSvc ReviewService,
	timelineSvc TimelineService,
	log *logger.Logger,
) *Handler {
	return &Handler{
		lifecycle:  lifecycleSvc,
		milestones: milestoneSvc,
		reviews:    reviewSvc,
		timeline:   timelineSvc,
		log:        log,
	}
}

// Register mounts the engagement routes on an authenticated group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/assignments", h.CreateAssignment)
	r.GET("/assignments/:id", h.GetAssignment)
	r.GET("/assignments/:id/timeline", h.GetTimeline)
	r.POST("/assignments/:id/complete", h.CompleteAssignment)
	r.POST("/assignments/:id/cancel", h.CancelAssignment)
	r.POST("/assignments/:id/applications", h.SubmitApplication)
	r.GET("/assignments/:id/applications", h.ListApplications)
	r.GET("/assignments/:id/milestones", h.ListMilestones)
	r.POST("/assignments/:id/milestones", h.CreateMilestone)
	r.GET("/assignments/:id/reviews", h.ListReviews)
	r.POST("/assignments/:id/reviews", h.CreateReview)
	r.GET("/assignments/:id/reviews/eligibility", h.GetReviewEligibility)
	r.POST("/applications/:id/view", h.ViewApplication)
	r.POST("/applications/:id/accept", h.AcceptApplication)
	r.POST("/applications/:id/reject", h.RejectApplication)
	r.POST("/applications/:id/withdraw", h.WithdrawApplication)
	r.POST("/milestones/:id/submit", h.SubmitMilestone)
	r.POST("/milestones/:id/approve", h.ApproveMilestone)
	r.POST("/milestones/:id/revision", h.RequestRevision)
	r.GET("/profiles/:id/reviews", h.ListProfileReviews)
}

type createAssignmentRequest struct {
	Title              string   `json:"title" binding:"required"`
	Description        string   `json:"description" binding:"required"`
	BudgetMin          int      `json:"budget_min"`
	BudgetMax          int      `json:"budget_max"`
	RequiredTemplateID *string  `json:"required_template_id"`
	PassingOverride    *float64 `json:"passing_override"`
}

// CreateAssignment posts a new open assignment. POST /api/v1/assignments.
func (h *Handler) CreateAssignment(c *gin.Context) {
	var req createAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.BudgetMax < req.BudgetMin {
		httperr.BadRequest(c, "budget_max must be at least budget_min")
		return
	}
	if req.PassingOverride != nil && (*req.PassingOverride <= 0 || *req.PassingOverride > 1) {
		httperr.BadRequest(c, "passing_override must be in (0,1]")
		return
	}

	actorID := middleware.Actor(c)
	assignment, err := h.lifecycle.CreateAssignment(c.Request.Context(), actorID, &models.Assignment{
		Title:              req.Title,
		Description:        req.Description,
		BudgetMin:          req.BudgetMin,
		BudgetMax:          req.BudgetMax,
		RequiredTemplateID: req.RequiredTemplateID,
		PassingOverride:    req.PassingOverride,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assignment": assignment})
}

// GetAssignment returns an assignment with its relations.
// GET /api/v1/assignments/:id.
func (h *Handler) GetAssignment(c *gin.Context) {
	assignment, err := h.lifecycle.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": assignment})
}

// GetTimeline returns the assignment's projected event feed.
// GET /api/v1/assignments/:id/timeline.
func (h *Handler) GetTimeline(c *gin.Context) {
	feed, err := h.timeline.Project(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":       feed,
		"total_events": len(feed),
	})
}

// CompleteAssignment marks in-progress work completed. Worker only.
// POST /api/v1/assignments/:id/complete.
func (h *Handler) CompleteAssignment(c *gin.Context) {
	actorID := middleware.Actor(c)
	assignment, err := h.lifecycle.Complete(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": assignment})
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelAssignment cancels an assignment with a mandatory reason.
// POST /api/v1/assignments/:id/cancel.
func (h *Handler) CancelAssignment(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	actorID := middleware.Actor(c)
	assignment, err := h.lifecycle.Cancel(c.Request.Context(), actorID, c.Param("id"), req.Reason)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": assignment})
}

type submitApplicationRequest struct {
	Proposal     string `json:"proposal" binding:"required"`
	BidAmount    int    `json:"bid_amount" binding:"required"`
	DurationDays int    `json:"duration_days" binding:"required"`
}

// SubmitApplication files an application on an open assignment.
// POST /api/v1/assignments/:id/applications.
func (h *Handler) SubmitApplication(c *gin.Context) {
	var req submitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	actorID := middleware.Actor(c)
	application, err := h.lifecycle.SubmitApplication(c.Request.Context(), actorID, &models.Application{
		AssignmentID: c.Param("id"),
		Proposal:     req.Proposal,
		BidAmount:    req.BidAmount,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"application": application})
}

// ListApplications lists an assignment's applications for its employer.
// GET /api/v1/assignments/:id/applications.
func (h *Handler) ListApplications(c *gin.Context) {
	actorID := middleware.Actor(c)
	applications, err := h.lifecycle.ListApplications(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applications":       applications,
		"total_applications": len(applications),
	})
}

// ViewApplication marks an application viewed. Idempotent.
// POST /api/v1/applications/:id/view.
func (h *Handler) ViewApplication(c *gin.Context) {
	actorID := middleware.Actor(c)
	application, err := h.lifecycle.ViewApplication(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": application})
}

// AcceptApplication accepts one application and starts the work, rejecting
// all peers. POST /api/v1/applications/:id/accept.
func (h *Handler) AcceptApplication(c *gin.Context) {
	actorID := middleware.Actor(c)
	assignment, err := h.lifecycle.AcceptApplication(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": assignment})
}

// RejectApplication rejects an application. Employer only.
// POST /api/v1/applications/:id/reject.
func (h *Handler) RejectApplication(c *gin.Context) {
	actorID := middleware.Actor(c)
	application, err := h.lifecycle.RejectApplication(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": application})
}

// WithdrawApplication withdraws the caller's own application.
// POST /api/v1/applications/:id/withdraw.
func (h *Handler) WithdrawApplication(c *gin.Context) {
	actorID := middleware.Actor(c)
	application, err := h.lifecycle.WithdrawApplication(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": application})
}

type createMilestoneRequest struct {
	Title        string `json:"title" binding:"required"`
	Amount       int    `json:"amount" binding:"required"`
	MaxRevisions int    `json:"max_revisions"`
}

// CreateMilestone adds a milestone to an assignment. Employer only.
// POST /api/v1/assignments/:id/milestones.
func (h *Handler) CreateMilestone(c *gin.Context) {
	var req createMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	actorID := middleware.Actor(c)
	created, err := h.milestones.Create(c.Request.Context(), actorID, &models.Milestone{
		AssignmentID: c.Param("id"),
		Title:        req.Title,
		Amount:       req.Amount,
		MaxRevisions: req.MaxRevisions,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestone": created})
}

// ListMilestones lists an assignment's milestones.
// GET /api/v1/assignments/:id/milestones.
func (h *Handler) ListMilestones(c *gin.Context) {
	milestones, err := h.milestones.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"milestones":       milestones,
		"total_milestones": len(milestones),
	})
}

type submitMilestoneRequest struct {
	Files []string `json:"files"`
	Links []string `json:"links"`
	Notes string   `json:"notes"`
}

// SubmitMilestone records the worker's deliverable. Worker only.
// POST /api/v1/milestones/:id/submit.
func (h *Handler) SubmitMilestone(c *gin.Context) {
	var req submitMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	actorID := middleware.Actor(c)
	updated, err := h.milestones.Submit(c.Request.Context(), actorID, c.Param("id"), milestone.Submission{
		Files: req.Files,
		Links: req.Links,
		Notes: req.Notes,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": updated})
}

// ApproveMilestone approves a submitted milestone. Employer only.
// POST /api/v1/milestones/:id/approve.
func (h *Handler) ApproveMilestone(c *gin.Context) {
	actorID := middleware.Actor(c)
	updated, err := h.milestones.Approve(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": updated})
}

type revisionRequest struct {
	Notes string `json:"notes" binding:"required"`
}

// RequestRevision sends a submitted milestone back with notes. Employer
// only. POST /api/v1/milestones/:id/revision.
func (h *Handler) RequestRevision(c *gin.Context) {
	var req revisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	actorID := middleware.Actor(c)
	updated, err := h.milestones.RequestRevision(c.Request.Context(), actorID, c.Param("id"), req.Notes)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": updated})
}

// GetReviewEligibility answers whether the caller may review now.
// GET /api/v1/assignments/:id/reviews/eligibility.
func (h *Handler) GetReviewEligibility(c *gin.Context) {
	actorID := middleware.Actor(c)
	eligibility, err := h.reviews.CanReview(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, eligibility)
}

type createReviewRequest struct {
	Categories map[string]int `json:"categories" binding:"required"`
	Text       string         `json:"text" binding:"required"`
	Recommend  bool           `json:"recommend"`
}

// CreateReview files the caller's review of their counterpart.
// POST /api/v1/assignments/:id/reviews.
func (h *Handler) CreateReview(c *gin.Context) {
	var req createReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	actorID := middleware.Actor(c)
	created, err := h.reviews.Create(c.Request.Context(), actorID, c.Param("id"), review.Input{
		Categories: req.Categories,
		Text:       req.Text,
		Recommend:  req.Recommend,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": created})
}

// ListReviews lists the reviews written on an assignment.
// GET /api/v1/assignments/:id/reviews.
func (h *Handler) ListReviews(c *gin.Context) {
	reviews, err := h.reviews.ListByAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reviews":       reviews,
		"total_reviews": len(reviews),
	})
}

// ListProfileReviews lists the reviews received by a profile.
// GET /api/v1/profiles/:id/reviews.
func (h *Handler) ListProfileReviews(c *gin.Context) {
	reviews, err := h.reviews.ListByReviewee(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reviews":       reviews,
		"total_reviews": len(reviews),
	})
}
