package middleware

import (
	"crypto/subtle"
	"strings"

	"courier/config"
	"courier/utils"

	"github.com/gofiber/fiber/v2"
)

// Protected guards the admin API with the static bearer key from
// ADMIN_API_KEY.
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := config.AppConfig.AdminAPIKey
		if key == "" {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Admin API is not configured", nil)
		}

		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Missing or malformed authorization header", nil)
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid API key", nil)
		}

		return c.Next()
	}
}
