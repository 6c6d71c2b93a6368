package handler

import (
	"strconv"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrackingHandler handles HTTP requests for tracking sessions.
type TrackingHandler struct {
	service *application.TrackingService
	stream  *StreamHandler
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(service *application.TrackingService, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		service: service,
		stream:  NewStreamHandler(service, logger),
	}
}

type startSessionBody struct {
	DeviceID uuid.UUID `json:"device_id" binding:"required"`
	application.StartSessionRequest
}

type searchBody struct {
	Query string `json:"query" binding:"required"`
}

// RegisterRoutes registers all tracking session routes on the given router group.
func (h *TrackingHandler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/api/v1/sessions")
	{
		sessions.POST("", h.StartSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.PUT("/:id/destination", h.SetDestination)
		sessions.POST("/:id/destination/search", h.SearchDestination)
		sessions.POST("/:id/stop", h.StopSession)
		sessions.GET("/:id/stream", h.stream.Stream)
	}
}

// StartSession handles POST /api/v1/sessions.
func (h *TrackingHandler) StartSession(c *gin.Context) {
	var req startSessionBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.StartSession(c.Request.Context(), req.DeviceID, req.StartSessionRequest)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListSessions handles GET /api/v1/sessions.
func (h *TrackingHandler) ListSessions(c *gin.Context) {
	page, limit := parsePagination(c)
	result := h.service.ListSessions(page, limit)
	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *TrackingHandler) GetSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session ID")
		return
	}

	result, err := h.service.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// SetDestination handles PUT /api/v1/sessions/:id/destination.
func (h *TrackingHandler) SetDestination(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session ID")
		return
	}

	var req application.CoordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.SetDestination(c.Request.Context(), sessionID, req.ToCoordinate())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// SearchDestination handles POST /api/v1/sessions/:id/destination/search.
func (h *TrackingHandler) SearchDestination(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session ID")
		return
	}

	var req searchBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.SearchDestination(c.Request.Context(), sessionID, req.Query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// StopSession handles POST /api/v1/sessions/:id/stop.
func (h *TrackingHandler) StopSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session ID")
		return
	}

	result, err := h.service.StopSession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
