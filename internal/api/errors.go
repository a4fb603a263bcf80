package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"vidflow/internal/daemon"
	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/services"
	"vidflow/internal/workflow"
)

// statusFor maps an operation error to its HTTP status and error kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrCapacityExceeded):
		return fiber.StatusTooManyRequests, "capacity_exceeded"
	case errors.Is(err, manifest.ErrNotFound):
		return fiber.StatusNotFound, string(services.ErrorKindNotFound)
	case errors.Is(err, workflow.ErrNotRetryable):
		return fiber.StatusConflict, "not_retryable"
	case errors.Is(err, daemon.ErrNotRunning):
		return fiber.StatusServiceUnavailable, "not_running"
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusUnprocessableEntity, string(services.ErrorKindValidation)
	case errors.Is(err, services.ErrUnsupported):
		return fiber.StatusUnprocessableEntity, string(services.ErrorKindUnsupported)
	}
	return fiber.StatusInternalServerError, string(services.KindOf(err))
}

func (s *Server) writeError(c *fiber.Ctx, err error) error {
	status, kind := statusFor(err)
	message := services.Details(err).Message
	if status == fiber.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.UserContext(), s.logger), "api request failed", "api_error",
			logging.String("path", c.Path()),
			logging.Error(err),
		)
	}
	return c.Status(status).JSON(ErrorResponse{Error: message, Kind: kind})
}

// handleError renders errors returned by handlers and fiber itself (unknown
// routes, oversized bodies) in the common error shape.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{Error: fe.Message})
	}
	return s.writeError(c, err)
}
