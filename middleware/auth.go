// middleware/auth.go
package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the participant identity the Gateway
// forwards after authenticating the user. Raid join/claim/progress routes
// cannot run without it.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		participantID := c.Get("X-User-ID")
		if participantID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID missing on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		c.Locals("participant_id", participantID)
		return c.Next()
	}
}

// SponsorContextMiddleware requires the sponsor role forwarded by the
// Gateway for raid-creation routes.
func SponsorContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sponsorID := c.Get("X-User-ID")
		role := c.Get("X-User-Role")
		if sponsorID == "" || role != "sponsor" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "sponsor role required",
			})
		}

		c.Locals("sponsor_id", sponsorID)
		return c.Next()
	}
}
