package handler

import (
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeviceHandler accepts reports from runner devices.
type DeviceHandler struct {
	service *application.TrackingService
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(service *application.TrackingService) *DeviceHandler {
	return &DeviceHandler{service: service}
}

type permissionBody struct {
	Granted *bool `json:"granted" binding:"required"`
}

// RegisterRoutes registers all device routes on the given router group.
func (h *DeviceHandler) RegisterRoutes(r *gin.RouterGroup) {
	devices := r.Group("/api/v1/devices/:deviceId")
	{
		devices.POST("/permission", h.ReportPermission)
		devices.POST("/positions", h.ReportPosition)
		devices.GET("/sessions", h.ListDeviceSessions)
	}
}

// ReportPermission handles POST /api/v1/devices/:deviceId/permission.
func (h *DeviceHandler) ReportPermission(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("deviceId"))
	if err != nil {
		response.BadRequest(c, "invalid device ID")
		return
	}

	var req permissionBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.service.ReportPermission(deviceID, *req.Granted)
	response.Success(c, gin.H{"device_id": deviceID, "granted": *req.Granted})
}

// ReportPosition handles POST /api/v1/devices/:deviceId/positions.
func (h *DeviceHandler) ReportPosition(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("deviceId"))
	if err != nil {
		response.BadRequest(c, "invalid device ID")
		return
	}

	var req application.CoordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	position := req.ToCoordinate()
	if err := h.service.ReportPosition(deviceID, position); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"device_id": deviceID, "position": position})
}

// ListDeviceSessions handles GET /api/v1/devices/:deviceId/sessions.
func (h *DeviceHandler) ListDeviceSessions(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("deviceId"))
	if err != nil {
		response.BadRequest(c, "invalid device ID")
		return
	}

	page, limit := parsePagination(c)
	result, err := h.service.ListDeviceSessions(c.Request.Context(), deviceID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}
