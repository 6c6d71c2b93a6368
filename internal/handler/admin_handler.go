package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/response"
)

// AdminHandler handles admin HTTP requests for tracking oversight.
type AdminHandler struct {
	service *application.TrackingService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service *application.TrackingService) *AdminHandler {
	return &AdminHandler{service: service}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/api/v1/admin")
	{
		admin.GET("/sessions", h.ListSessions)
		admin.GET("/stats/sessions", h.SessionStats)
	}
}

// ListSessions handles GET /api/v1/admin/sessions.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	page, limit := parsePagination(c)
	result := h.service.ListSessions(page, limit)
	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// SessionStats handles GET /api/v1/admin/stats/sessions.
func (h *AdminHandler) SessionStats(c *gin.Context) {
	stats, err := h.service.GetSessionStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
