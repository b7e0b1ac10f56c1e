package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Success   bool   `json:"success"`
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, accuracy_rejected, etc.
	Message   string `json:"message"` // Human-readable message
	Hint      string `json:"hint,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// envelope wraps every successful response.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeData(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Data: data})
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	return newHintedError(c, status, code, message, "")
}

func newHintedError(c *fiber.Ctx, status int, code, message, hint string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		Hint:      hint,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, http.StatusBadRequest, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, http.StatusNotFound, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, http.StatusInternalServerError, "internal_error", msg)
}

// paramError is a malformed query parameter.
type paramError struct {
	code string
	msg  string
}

func (e *paramError) Error() string { return e.msg }

// errFromDomain maps a usecase error to its HTTP rendering.
// Unrecognised errors are logged and reported as 500 without detail.
func errFromDomain(c *fiber.Ctx, err error) error {
	var (
		rejected *domain.AccuracyRejected
		acq      *domain.AcquisitionError
		param    *paramError
	)
	switch {
	case errors.As(err, &param):
		return newError(c, http.StatusBadRequest, param.code, param.msg)
	case errors.As(err, &rejected):
		return newHintedError(c, http.StatusUnprocessableEntity, "accuracy_rejected", rejected.Error(), rejected.Hint())
	case errors.As(err, &acq):
		switch acq.Kind {
		case domain.PermissionDenied:
			return newHintedError(c, http.StatusForbidden, string(acq.Kind), acq.Error(), acq.Hint())
		case domain.Timeout:
			return newHintedError(c, http.StatusGatewayTimeout, string(acq.Kind), acq.Error(), acq.Hint())
		default:
			return newHintedError(c, http.StatusServiceUnavailable, string(domain.Unavailable), acq.Error(), acq.Hint())
		}
	case errors.Is(err, domain.ErrEntityRequired):
		return newError(c, http.StatusBadRequest, "entity_required", err.Error())
	case errors.Is(err, domain.ErrMissingCoordinates):
		return newError(c, http.StatusBadRequest, "missing_coordinates", err.Error())
	case errors.Is(err, domain.ErrInvalidCoordinates):
		return newError(c, http.StatusBadRequest, "invalid_coordinates", err.Error())
	case errors.Is(err, domain.ErrInvalidRange):
		return newError(c, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(c, http.StatusGatewayTimeout, "timeout", "request timed out")
	}

	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return errInternal(c, "internal error")
}
