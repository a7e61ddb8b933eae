package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error codes used across the notification core.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnknownEventType    = "UNKNOWN_EVENT_TYPE"
	CodeInvalidParent       = "INVALID_PARENT"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeRecipientResolution = "RECIPIENT_RESOLUTION"
	CodeGeneration          = "GENERATION_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Predefined error constructors
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewUnknownEventTypeError(eventType string) *AppError {
	return &AppError{
		Code:    CodeUnknownEventType,
		Message: fmt.Sprintf("unknown event type %q", eventType),
	}
}

func NewInvalidParentError(message string) *AppError {
	return &AppError{Code: CodeInvalidParent, Message: message}
}

func NewInvalidTransitionError(from, to NotificationState) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("notification cannot move from %s to %s", from, to),
	}
}

func NewRecipientResolutionError(err error) *AppError {
	return &AppError{
		Code:    CodeRecipientResolution,
		Message: "recipient resolution failed",
		Err:     err,
	}
}

func NewGenerationError(err error) *AppError {
	return &AppError{
		Code:    CodeGeneration,
		Message: "delegate reply generation failed",
		Err:     err,
	}
}

func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s timed out", operation),
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewInternalError(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "Internal server error", Err: err}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{Error: err.Error()}
	}

	return c.Status(status).JSON(response)
}
