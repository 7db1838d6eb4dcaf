// Package catalog provides REST API handlers for the skill and template
// catalog.
package catalog

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trustwork/trustwork-core/internal/api/httperr"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/service/catalog"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// CatalogService interface for catalog operations.
type CatalogService interface {
	CreateSkill(ctx context.Context, skill *models.Skill) (*models.Skill, error)
	CreateTemplate(ctx context.Context, tmpl *models.AssessmentTemplate) (*models.AssessmentTemplate, error)
	AddQuestion(ctx context.Context, q *models.Question) (*models.Question, error)
	Publish(ctx context.Context, templateID string) (*models.AssessmentTemplate, error)
	GetTemplate(ctx context.Context, id string) (*models.AssessmentTemplate, error)
	ListTemplates(ctx context.Context, skillID string) ([]models.AssessmentTemplate, error)
}

// Handler handles catalog API requests.
type Handler struct {
	catalog CatalogService
	log     *logger.Logger
}

// NewHandler creates a new catalog handler.
func NewHandler(svc *catalog.Service, log *logger.Logger) *Handler {
	return &Handler{catalog: svc, log: log}
}

// NewHandlerWithInterfaces creates a new catalog handler with interface
// dependencies (useful for testing).
func NewHandlerWithInterfaces(svc CatalogService, log *logger.Logger) *Handler {
	return &Handler{catalog: svc, log: log}
}

// Register mounts the catalog routes.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/skills", h.CreateSkill)
	r.POST("/templates", h.CreateTemplate)
	r.POST("/templates/:id/questions", h.AddQuestion)
	r.POST("/templates/:id/publish", h.PublishTemplate)
	r.GET("/templates/:id", h.GetTemplate)
	r.GET("/templates", h.ListTemplates)
}

// CreateSkill registers a skill. POST /api/v1/skills.
func (h *Handler) CreateSkill(c *gin.Context) {
	var skill models.Skill
	if err := c.ShouldBindJSON(&skill); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	created, err := h.catalog.CreateSkill(c.Request.Context(), &skill)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"skill": created})
}

// CreateTemplate registers an unpublished template. POST /api/v1/templates.
func (h *Handler) CreateTemplate(c *gin.Context) {
	var tmpl models.AssessmentTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	created, err := h.catalog.CreateTemplate(c.Request.Context(), &tmpl)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"template": created})
}

type addQuestionRequest struct {
	Prompt        string `json:"prompt" binding:"required"`
	OptionA       string `json:"option_a" binding:"required"`
	OptionB       string `json:"option_b" binding:"required"`
	OptionC       string `json:"option_c" binding:"required"`
	OptionD       string `json:"option_d" binding:"required"`
	CorrectLetter string `json:"correct_letter" binding:"required"`
	Explanation   string `json:"explanation"`
}

// AddQuestion adds a question to an unpublished template.
// POST /api/v1/templates/:id/questions.
func (h *Handler) AddQuestion(c *gin.Context) {
	var req addQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	question, err := h.catalog.AddQuestion(c.Request.Context(), &models.Question{
		TemplateID:    c.Param("id"),
		Prompt:        req.Prompt,
		OptionA:       req.OptionA,
		OptionB:       req.OptionB,
		OptionC:       req.OptionC,
		OptionD:       req.OptionD,
		CorrectLetter: req.CorrectLetter,
		Explanation:   req.Explanation,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"question_id": question.ID})
}

// PublishTemplate freezes a template and opens it for attempts.
// POST /api/v1/templates/:id/publish.
func (h *Handler) PublishTemplate(c *gin.Context) {
	tmpl, err := h.catalog.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": tmpl})
}

// GetTemplate returns one template. GET /api/v1/templates/:id.
func (h *Handler) GetTemplate(c *gin.Context) {
	tmpl, err := h.catalog.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": tmpl})
}

// ListTemplates lists templates, optionally filtered by skill.
// GET /api/v1/templates?skill_id=...
func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.catalog.ListTemplates(c.Request.Context(), c.Query("skill_id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"templates":       templates,
		"total_templates": len(templates),
	})
}
