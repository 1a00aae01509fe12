package system

import (
	"github.com/gin-gonic/gin"

	"github.com/aurax/trading-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for the mode endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for system state
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetModeHandler handles GET requests for the current trading mode
func (h *GinHandlers) GetModeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode, err := h.service.Mode()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		info, err := h.service.PausedInfo()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"mode": mode, "paused_info": info})
	}
}

// SwitchModeHandler handles POST requests to switch between demo and live
func (h *GinHandlers) SwitchModeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Mode string `json:"mode" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.service.SetMode(body.Mode); err != nil {
			if err == ErrInvalidMode {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"mode": body.Mode})
	}
}

// ForceResumeHandler handles POST requests to request a guard resume
// after a circuit-breaker pause. The guard applies it on its next cycle.
func (h *GinHandlers) ForceResumeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.RequestForceResume(); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"force_resume": true})
	}
}
