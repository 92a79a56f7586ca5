package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-assistant/internal/auth"
)

const userIDKey = "user_id"

// requireToken verifies the bearer token and stores its user id in Locals.
func requireToken(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}
		userID, err := verifier.Verify(token)
		if err != nil {
			return err
		}
		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

// authorizeUser rejects requests acting on another user's resources. Without
// auth every caller may act on any user.
func authorizeUser(c *fiber.Ctx, userID string) error {
	caller, ok := c.Locals(userIDKey).(string)
	if !ok {
		return nil
	}
	if caller != userID {
		return fiber.NewError(fiber.StatusForbidden, "token does not grant access to this user")
	}
	return nil
}
