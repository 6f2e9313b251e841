package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"serialspec/internal/fetch"
	"serialspec/internal/spec"
	"serialspec/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
	cause   error
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(endpoint, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", endpoint, id),
	}
}

func UnknownEndpointError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENDPOINT",
		Status:  404,
		Message: fmt.Sprintf("Unknown endpoint: %s", name),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func InvalidQueryError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "INVALID_QUERY",
		Status:  400,
		Message: "Invalid query parameters",
		Details: details,
	}
}

// AsAppError classifies err. Errors that are already AppErrors pass through;
// the compile and fetch failures map to fixed codes; anything else is an
// internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	classify := func(code string, status int) *AppError {
		return &AppError{Code: code, Status: status, Message: err.Error(), cause: err}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return classify("NOT_FOUND", 404)
	case errors.Is(err, spec.ErrPluginContract):
		return classify("PLUGIN_CONTRACT", 500)
	case errors.Is(err, spec.ErrConfig):
		return classify("MISCONFIGURED", 500)
	case errors.Is(err, fetch.ErrDataInconsistency):
		return classify("DATA_INCONSISTENCY", 500)
	}
	return &AppError{Code: "INTERNAL_ERROR", Status: 500, Message: "Internal server error", cause: err}
}

// ErrorHandler is the fiber error handler for the API.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
			})
		}

		appErr := AsAppError(err)
		if appErr.Status >= 500 {
			logger.Error("request failed",
				zap.String("path", c.Path()),
				zap.String("code", appErr.Code),
				zap.Error(err),
			)
		}
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}
}
