// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"errors"
	"net/http"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/apperror"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/gin-gonic/gin"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// Success writes a 200 response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Paginated writes a 200 response carrying one page of items.
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Data:    items,
		Pagination: &Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// BadRequest writes a 400 response.
func BadRequest(c *gin.Context, msg string) {
	Fail(c, http.StatusBadRequest, "bad_request", msg)
}

// Fail writes an error response with an explicit status and code.
func Fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, Envelope{Success: false, Error: &ErrorBody{Code: code, Message: msg}})
}

// Error maps a service error to its HTTP status and writes it.
func Error(c *gin.Context, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	_ = c.Error(err)
	Fail(c, status, code, msg)
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	var (
		notFound   *apperror.NotFoundError
		validation *apperror.ValidationError
		conflict   *apperror.ConflictError
		state      *apperror.InvalidStateError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &state):
		return http.StatusConflict, "invalid_state"
	}

	switch kind := tracking.KindOf(err); kind {
	case tracking.KindInvalidCoordinate:
		return http.StatusBadRequest, string(kind)
	case tracking.KindPermissionDenied:
		return http.StatusForbidden, string(kind)
	case tracking.KindRouteUnavailable:
		return http.StatusBadGateway, string(kind)
	case tracking.KindPositionUnavailable:
		return http.StatusServiceUnavailable, string(kind)
	}
	return http.StatusInternalServerError, "internal_error"
}
