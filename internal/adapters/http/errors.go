package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, not_found, fetch_failed, internal_error
	Message   string `json:"message"` // Human-readable message
	Retry     bool   `json:"retry,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		Retry:     status == fiber.StatusBadGateway,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errFetchFailed returns a 502 telling the client both query paths failed
// and the request may be retried.
func errFetchFailed(c *fiber.Ctx, msg string) error {
	return newError(c, 502, "fetch_failed", msg)
}

// errFromDomain maps a usecase error onto the envelope.
func errFromDomain(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidEmoji),
		errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrInvalidRegion):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrFetchFailed),
		errors.Is(err, domain.ErrPresenceCommitFailed):
		return errFetchFailed(c, err.Error())
	}
	return errInternal(c, err.Error())
}
