package httpapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-assistant/internal/agent"
	"github.com/i474232898/weather-assistant/internal/auth"
	"github.com/i474232898/weather-assistant/internal/calendar"
	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/notify"
	"github.com/i474232898/weather-assistant/internal/store"
)

// ErrorHandler renders every error as {"error": true, "message": ...} with a
// status derived from the error taxonomy.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(StatusFor(err)).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, common.ErrInvalidLocation),
		errors.Is(err, common.ErrInvalidQuery):
		return fiber.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, notify.ErrDeliveryUnavailable):
		return fiber.StatusConflict
	case errors.Is(err, calendar.ErrNotConfigured), errors.Is(err, agent.ErrNotConfigured):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, agent.ErrUnknownTool):
		return fiber.StatusNotFound
	case errors.Is(err, common.ErrUpstreamUnavailable):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
