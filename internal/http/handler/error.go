package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"docmerge/internal/errs"
	"docmerge/internal/http/middleware"
	"docmerge/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps engine and service errors to responses. Messages of
// request-shape errors only echo what the client sent and are returned as is.
func writeServiceError(c *fiber.Ctx, err error) error {
	var (
		ve  *errs.ValidationError
		se  *errs.ShapeConflictError
		te  *errs.TooManyIndexedGroupsError
		ne  *errs.NotFoundError
		sio *errs.StorageIOError
	)
	switch {
	case errors.As(err, &ve):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", ve.Error())
	case errors.As(err, &se):
		return writeError(c, fiber.StatusBadRequest, "SHAPE_CONFLICT", se.Error())
	case errors.As(err, &te):
		return writeError(c, fiber.StatusUnprocessableEntity, "TOO_MANY_INDEXED_GROUPS", te.Error())
	case errors.As(err, &ne):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", ne.Error())
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "record not found")
	case errors.Is(err, service.ErrUnknownEntity):
		return writeError(c, fiber.StatusNotFound, "UNKNOWN_ENTITY", "unknown entity type")
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.As(err, &sio):
		return writeError(c, fiber.StatusInternalServerError, "STORAGE_ERROR", "storage unavailable")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
