package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

// statusFor maps a domain error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return fiber.StatusBadRequest, "VALIDATION"
	case errors.Is(err, model.ErrUnknownInstance):
		return fiber.StatusNotFound, "UNKNOWN_INSTANCE"
	case errors.Is(err, model.ErrInvalidTransition):
		return fiber.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, model.ErrStatusConflict):
		return fiber.StatusConflict, "STATUS_CONFLICT"
	case errors.Is(err, model.ErrQRNotAvailable):
		return fiber.StatusServiceUnavailable, "QR_NOT_AVAILABLE"
	case errors.Is(err, model.ErrProviderUnavailable):
		return fiber.StatusBadGateway, "PROVIDER_UNAVAILABLE"
	default:
		return fiber.StatusInternalServerError, "INTERNAL"
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(status).JSON(ErrorResponse{Code: code, Message: err.Error()})
}

// ErrorHandler renders errors that escape the handlers, such as unknown routes.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{Code: "HTTP_ERROR", Message: fe.Message})
	}
	return writeError(c, err)
}
