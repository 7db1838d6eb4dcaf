// Package profiles provides REST API handlers for marketplace profiles.
package profiles

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trustwork/trustwork-core/internal/api/httperr"
	"github.com/trustwork/trustwork-core/internal/api/middleware"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// ProfileStore interface for profile persistence.
type ProfileStore interface {
	Create(profile *models.Profile) error
	GetByID(id string) (*models.Profile, error)
}

// Handler handles profile API requests.
type Handler struct {
	profiles ProfileStore
	log      *logger.Logger
}

// NewHandler creates a new profiles handler.
func NewHandler(profiles *repository.ProfileRepository, log *logger.Logger) *Handler {
	return &Handler{profiles: profiles, log: log}
}

// NewHandlerWithInterfaces creates a new profiles handler with interface
// dependencies (useful for testing).
func NewHandlerWithInterfaces(profiles ProfileStore, log *logger.Logger) *Handler {
	return &Handler{profiles: profiles, log: log}
}

// Register mounts the profile routes on an authenticated group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/profiles", h.CreateProfile)
	r.GET("/profiles/:id", h.GetProfile)
}

type createProfileRequest struct {
	Role        string `json:"role" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

// CreateProfile registers the caller's marketplace profile under the
// authenticated subject id. POST /api/v1/profiles.
func (h *Handler) CreateProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Role != models.RoleJobSeeker && req.Role != models.RoleEmployer {
		httperr.BadRequest(c, "role must be job_seeker or employer")
		return
	}

	profile := &models.Profile{
		ID:          middleware.Actor(c),
		Role:        req.Role,
		DisplayName: req.DisplayName,
	}
	if err := h.profiles.Create(profile); err != nil {
		httperr.Write(c, err)
		return
	}

	h.log.Info().Str("profile", profile.ID).Str("role", profile.Role).Msg("Profile created")
	c.JSON(http.StatusCreated, gin.H{"profile": profile})
}

// GetProfile returns a profile with its reputation fields.
// GET /api/v1/profiles/:id.
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.GetByID(c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}
