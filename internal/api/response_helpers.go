// internal/api/response_helpers.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/gin-gonic/gin"
)

// ResponseHelper renders the standard API envelope
type ResponseHelper struct{}

// NewResponseHelper creates a response helper
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success renders a 200 response
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created renders a 201 response
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "resource created"
	}

	c.JSON(http.StatusCreated, response)
}

// Accepted renders a 202 response for background tasks
func (rh *ResponseHelper) Accepted(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusAccepted, response)
}

// sanitizeErrorMessage removes sensitive information from error messages
func sanitizeErrorMessage(message string) string {
	lowered := strings.ToLower(message)
	sensitivePatterns := []string{"api_key", "apikey", "secret", "token", "password"}

	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowered, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error renders an error response with the given status and code
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest renders a 400 response
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound renders a 404 response
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	message := resource + " not found"
	code := ErrorNotFound
	if resource != "" {
		code = rh.getResourceNotFoundCode(resource)
	}
	rh.Error(c, http.StatusNotFound, code, message, details...)
}

// InternalError renders a 500 response
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict renders a 409 response
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// ServiceUnavailable renders a 503 response
func (rh *ResponseHelper) ServiceUnavailable(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, message, details...)
}

// HandleError maps a classified service error onto the HTTP status
// and code the envelope expects. Structural rejections surface as 409
// so an editor can tell "you may not" from "you asked wrong".
func (rh *ResponseHelper) HandleError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		rh.InternalError(c, "unexpected error", err.Error())
		return
	}

	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		rh.Error(c, http.StatusBadRequest, appErr.Code, appErr.Message)
	case apperrors.ErrorTypePrecondition:
		rh.Error(c, http.StatusConflict, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeNotFound:
		rh.Error(c, http.StatusNotFound, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeConflict:
		rh.Error(c, http.StatusConflict, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeLLM:
		rh.Error(c, http.StatusServiceUnavailable, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeStorage:
		rh.Error(c, http.StatusInternalServerError, appErr.Code, appErr.Message)
	default:
		rh.Error(c, http.StatusInternalServerError, appErr.Code, appErr.Message)
	}
}

// FileResponse streams content as a file download
func (rh *ResponseHelper) FileResponse(c *gin.Context, content string, filename string, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Length", fmt.Sprintf("%d", len(content)))
	c.String(http.StatusOK, content)
}

// ExportResponse renders an export result in its format's content type
func (rh *ResponseHelper) ExportResponse(c *gin.Context, result *models.ExportResult) {
	switch strings.ToLower(result.Format) {
	case "doc":
		rh.FileResponse(c, result.Content, result.Filename, "text/markdown; charset=utf-8")
	case "json":
		rh.FileResponse(c, result.Content, result.Filename, "application/json; charset=utf-8")
	case "txt":
		rh.FileResponse(c, result.Content, result.Filename, "text/plain; charset=utf-8")
	default:
		rh.Success(c, result, "export complete")
	}
}

// getRequestID reads the request id set by the middleware
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}
	return ""
}

// getResourceNotFoundCode maps a resource name onto its error code
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "project":
		return ErrorProjectNotFound
	case "story":
		return ErrorStoryNotFound
	case "scene":
		return ErrorSceneNotFound
	case "character":
		return ErrorCharacterNotFound
	case "task":
		return ErrorTaskNotFound
	case "template":
		return ErrorTemplateNotFound
	default:
		return "RESOURCE_NOT_FOUND"
	}
}
