package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/helpdesk-relay/internal/middleware"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDKey)
}

// CreatedResponse sends a 201 Created response
func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// StatusForError maps an error to the HTTP status returned to the caller.
// Failures of the helpdesk or its credentials are the relay's upstream, so
// they surface as 502, and an exhausted rate limit budget as 503.
func StatusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeAuthentication, errors.ErrorTypeExternal:
		return http.StatusBadGateway
	case errors.ErrorTypeRateLimit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponseFromError sends an error response based on the error type.
// Server side failures are attached to the context for the error logger and
// the request observer. Only validation details are shown to the caller.
func ErrorResponseFromError(c *gin.Context, err error) {
	statusCode := StatusForError(err)
	if statusCode >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	apiError := &APIError{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}

	if appErr, ok := errors.As(err); ok {
		apiError.Code = appErr.Code
		switch appErr.Type {
		case errors.ErrorTypeValidation, errors.ErrorTypeNotFound:
			apiError.Message = appErr.Message
			if len(appErr.Details) > 0 {
				apiError.Details = make(map[string]interface{}, len(appErr.Details))
				for k, v := range appErr.Details {
					apiError.Details[k] = v
				}
			}
		case errors.ErrorTypeRateLimit:
			apiError.Message = "The helpdesk is busy, please try again later"
		case errors.ErrorTypeAuthentication, errors.ErrorTypeExternal:
			apiError.Message = "The helpdesk could not process the request"
		}
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Error:     apiError,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ValidationErrorResponse sends a 400 Bad Request response with validation details
func ValidationErrorResponse(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    "VALIDATION_ERROR",
			Message: message,
			Details: details,
		},
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}
