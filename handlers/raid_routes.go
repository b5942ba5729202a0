// handlers/raid_routes.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"listening-raid-system/middleware"
	"listening-raid-system/services"
	"listening-raid-system/storage"
)

func SetupRaidRoutes(app *fiber.App, raidService *services.RaidService, claimService *services.ClaimService) {
	// 🔐 Sponsor route — raid creation is owned by the sponsor dashboard.
	app.Post("/raids", middleware.SponsorContextMiddleware(), func(c *fiber.Ctx) error {
		var input services.CreateRaidInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		input.SponsorID = c.Locals("sponsor_id").(string)

		raid, err := raidService.CreateRaid(c.Context(), input)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(raid)
	})

	// Public-ish raid info (still behind the gateway token).
	app.Get("/raids/:id", func(c *fiber.Ctx) error {
		raid, err := raidService.Raids.Get(c.Context(), c.Params("id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Raid not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(raid)
	})

	// 🔐 Participant routes — require user context from the Gateway.
	userCtx := middleware.UserContextMiddleware()

	app.Post("/raids/:id/join", userCtx, func(c *fiber.Ctx) error {
		participantID := c.Locals("participant_id").(string)

		result, err := raidService.Join(c.Context(), participantID, c.Params("id"))
		if err != nil {
			return raidError(c, err)
		}
		return c.JSON(result)
	})

	app.Delete("/raids/:id/leave", userCtx, func(c *fiber.Ctx) error {
		participantID := c.Locals("participant_id").(string)

		if err := raidService.Leave(c.Context(), participantID, c.Params("id")); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to leave raid"})
		}
		return c.JSON(fiber.Map{"message": "Left raid"})
	})

	app.Get("/raids/:id/progress", userCtx, func(c *fiber.Ctx) error {
		participantID := c.Locals("participant_id").(string)

		progress, err := raidService.Progress(c.Context(), participantID, c.Params("id"))
		if err != nil {
			return raidError(c, err)
		}
		return c.JSON(progress)
	})

	app.Post("/raids/:id/claim", userCtx, func(c *fiber.Ctx) error {
		participantID := c.Locals("participant_id").(string)

		result, err := claimService.Claim(c.Context(), participantID, c.Params("id"))
		if err != nil {
			return raidError(c, err)
		}
		return c.JSON(result)
	})
}

// raidError maps engine errors onto HTTP statuses.
func raidError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrRaidNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Raid not found"})
	case errors.Is(err, services.ErrRaidNotActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Raid is not active"})
	case errors.Is(err, services.ErrRaidFull):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Raid is full"})
	case errors.Is(err, services.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "No valid platform authorization — reconnect your streaming account",
		})
	case errors.Is(err, services.ErrNotQualified):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Not qualified yet"})
	case errors.Is(err, services.ErrAlreadyClaimed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Reward already claimed"})
	case errors.Is(err, services.ErrSettlementPending):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": "Claim recorded — settlement is pending and will be retried",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
