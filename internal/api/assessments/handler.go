// Package assessments provides REST API handlers for the assessment engine:
// templates, proctored attempts and the credit wallet.
package assessments

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trustwork/trustwork-core/internal/api/httperr"
	"github.com/trustwork/trustwork-core/internal/api/middleware"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/service/assessment"
	"github.com/trustwork/trustwork-core/internal/service/ledger"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// AssessmentService interface for attempt operations.
type AssessmentService interface {
	CanAttempt(ctx context.Context, userID, templateID string) (*assessment.Eligibility, error)
	Start(ctx context.Context, userID, templateID string, assignmentID, voucherID *string) (*assessment.StartOutcome, error)
	Answer(ctx context.Context, actorID, attemptID string, questionIndex int, letter string) error
	SignalIntegrityEvent(ctx context.Context, actorID, attemptID, kind string) (*models.Attempt, error)
	Submit(ctx context.Context, actorID, attemptID string) (*assessment.Result, error)
	Get(ctx context.Context, actorID, attemptID string) (*models.Attempt, error)
	CanApply(ctx context.Context, userID, assignmentID string) (*assessment.Decision, error)
}

// LedgerService interface for wallet reads.
type LedgerService interface {
	Balance(ctx context.Context, userID string) (*models.CreditBalance, error)
	Entries(ctx context.Context, userID string) ([]models.CreditEntry, error)
	Vouchers(ctx context.Context, userID string) ([]models.Voucher, error)
}

// Handler handles assessment API requests.
type Handler struct {
	assessments AssessmentService
	wallet      LedgerService
	log         *logger.Logger
}

// NewHandler creates a new assessments handler.
func NewHandler(assessments *assessment.Service, wallet *ledger.Service, log *logger.Logger) *Handler {
	return &Handler{assessments: assessments, wallet: wallet, log: log}
}

// NewHandlerWithInterfaces creates a new assessments handler with interface
// dependencies (useful for testing).
func NewHandlerWithInterfaces(assessments AssessmentService, wallet LedgerService, log *logger.Logger) *Handler {
	return &Handler{assessments: assessments, wallet: wallet, log: log}
}

// Register mounts the assessment routes on an authenticated group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/templates/:id/eligibility", h.GetEligibility)
	r.POST("/attempts", h.StartAttempt)
	r.GET("/attempts/:id", h.GetAttempt)
	r.POST("/attempts/:id/answers", h.SaveAnswer)
	r.POST("/attempts/:id/signals", h.SignalIntegrity)
	r.POST("/attempts/:id/submit", h.SubmitAttempt)
	r.GET("/wallet", h.GetWallet)
	r.GET("/wallet/entries", h.GetWalletEntries)
}

// GetEligibility answers whether the caller may start an attempt.
// GET /api/v1/templates/:id/eligibility.
func (h *Handler) GetEligibility(c *gin.Context) {
	actorID := middleware.Actor(c)
	eligibility, err := h.assessments.CanAttempt(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		h.log.Error().Err(err).Str("template", c.Param("id")).Msg("Failed to evaluate eligibility")
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, eligibility)
}

type startAttemptRequest struct {
	TemplateID   string  `json:"template_id" binding:"required"`
	AssignmentID *string `json:"assignment_id"`
	VoucherID    *string `json:"voucher_id"`
}

// StartAttempt starts a proctored attempt, charging the retake fee when one
// applies. POST /api/v1/attempts.
func (h *Handler) StartAttempt(c *gin.Context) {
	var req startAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	actorID := middleware.Actor(c)
	outcome, err := h.assessments.Start(c.Request.Context(), actorID, req.TemplateID, req.AssignmentID, req.VoucherID)
	if err != nil {
		h.log.Error().Err(err).Str("template", req.TemplateID).Msg("Failed to start attempt")
		httperr.Write(c, err)
		return
	}

	h.log.Info().
		Str("attempt", outcome.Attempt.ID).
		Str("template", req.TemplateID).
		Int("charged", outcome.Charged).
		Msg("Attempt started")
	c.JSON(http.StatusCreated, outcome)
}

// GetAttempt returns the caller's attempt with its question slots.
// GET /api/v1/attempts/:id.
func (h *Handler) GetAttempt(c *gin.Context) {
	actorID := middleware.Actor(c)
	attempt, err := h.assessments.Get(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempt": attempt})
}

type saveAnswerRequest struct {
	QuestionIndex *int   `json:"question_index" binding:"required"`
	Letter        string `json:"letter" binding:"required"`
}

// SaveAnswer records one answer on an in-progress attempt. Re-answering
// overwrites. POST /api/v1/attempts/:id/answers.
func (h *Handler) SaveAnswer(c *gin.Context) {
	var req saveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	actorID := middleware.Actor(c)
	if err := h.assessments.Answer(c.Request.Context(), actorID, c.Param("id"), *req.QuestionIndex, req.Letter); err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "timestamp": time.Now().UTC()})
}

type integritySignalRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// SignalIntegrity reports a proctoring violation, voiding the attempt.
// POST /api/v1/attempts/:id/signals.
func (h *Handler) SignalIntegrity(c *gin.Context) {
	var req integritySignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	actorID := middleware.Actor(c)
	attempt, err := h.assessments.SignalIntegrityEvent(c.Request.Context(), actorID, c.Param("id"), req.Kind)
	if err != nil {
		httperr.Write(c, err)
		return
	}

	h.log.Warn().
		Str("attempt", attempt.ID).
		Str("kind", req.Kind).
		Msg("Attempt voided for integrity")
	c.JSON(http.StatusOK, gin.H{"attempt": attempt})
}

// SubmitAttempt finalizes and scores an attempt.
// POST /api/v1/attempts/:id/submit.
func (h *Handler) SubmitAttempt(c *gin.Context) {
	actorID := middleware.Actor(c)
	result, err := h.assessments.Submit(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}

	h.log.Info().
		Str("attempt", result.Attempt.ID).
		Int("score", result.Score).
		Bool("passed", result.Passed).
		Msg("Attempt submitted")
	c.JSON(http.StatusOK, result)
}

// GetWallet returns the caller's credit balance and vouchers.
// GET /api/v1/wallet.
func (h *Handler) GetWallet(c *gin.Context) {
	actorID := middleware.Actor(c)
	ctx := c.Request.Context()

	balance, err := h.wallet.Balance(ctx, actorID)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	vouchers, err := h.wallet.Vouchers(ctx, actorID)
	if err != nil {
		httperr.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":  balance.Balance,
		"vouchers": vouchers,
	})
}

// GetWalletEntries returns the caller's credit audit trail.
// GET /api/v1/wallet/entries.
func (h *Handler) GetWalletEntries(c *gin.Context) {
	actorID := middleware.Actor(c)
	entries, err := h.wallet.Entries(c.Request.Context(), actorID)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":       entries,
		"total_entries": len(entries),
	})
}
