package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"subhub/models"
)

// registerManagement wires the JSON API the external dashboard talks to.
// Every route requires the administrative secret as a bearer token.
func registerManagement(app *fiber.App, config *ServerConfig) {

	api := app.Group("/api", func(c *fiber.Ctx) error {
		auth := c.Get(fiber.HeaderAuthorization)
		secret := strings.TrimPrefix(auth, "Bearer ")
		if config.AdminSecret == "" || secret == auth || secret != config.AdminSecret {
			return c.Status(403).SendString("Invalid admin secret")
		}
		return c.Next()
	})

	api.Get("/settings", func(c *fiber.Ctx) error {
		return c.JSON(loadSettings(c, config))
	})

	// The settings-update endpoint; the only writer of the settings record.
	api.Put("/settings", func(c *fiber.Ctx) error {
		var settings models.Settings
		if err := c.BodyParser(&settings); err != nil {
			return c.Status(400).SendString("Invalid settings payload")
		}
		if err := config.Store.PutSettings(c.Context(), settings); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Failed to store settings")
			return c.Status(500).SendString("Error storing settings")
		}
		return c.JSON(settings)
	})

	api.Get("/subscriptions", func(c *fiber.Ctx) error {
		subs, err := config.Store.GetSubscriptions(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading subscriptions")
		}
		if subs == nil {
			subs = []models.Subscription{}
		}
		return c.JSON(subs)
	})

	api.Post("/subscriptions", func(c *fiber.Ctx) error {
		var sub models.Subscription
		if err := c.BodyParser(&sub); err != nil {
			return c.Status(400).SendString("Invalid subscription payload")
		}
		sub.ID = uuid.New().String()

		subs, err := config.Store.GetSubscriptions(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading subscriptions")
		}
		subs = append(subs, sub)
		if err := config.Store.PutSubscriptions(c.Context(), subs); err != nil {
			return c.Status(500).SendString("Error storing subscriptions")
		}
		return c.Status(201).JSON(sub)
	})

	api.Put("/subscriptions/:id", func(c *fiber.Ctx) error {
		var sub models.Subscription
		if err := c.BodyParser(&sub); err != nil {
			return c.Status(400).SendString("Invalid subscription payload")
		}
		sub.ID = c.Params("id")

		subs, err := config.Store.GetSubscriptions(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading subscriptions")
		}
		_, idx, found := lo.FindIndexOf(subs, func(s models.Subscription) bool {
			return s.ID == sub.ID
		})
		if !found {
			return c.Status(404).SendString("Subscription not found")
		}
		subs[idx] = sub
		if err := config.Store.PutSubscriptions(c.Context(), subs); err != nil {
			return c.Status(500).SendString("Error storing subscriptions")
		}
		return c.JSON(sub)
	})

	api.Delete("/subscriptions/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")

		subs, err := config.Store.GetSubscriptions(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading subscriptions")
		}
		filtered := lo.Filter(subs, func(s models.Subscription, _ int) bool {
			return s.ID != id
		})
		if len(filtered) == len(subs) {
			return c.Status(404).SendString("Subscription not found")
		}
		if err := config.Store.PutSubscriptions(c.Context(), filtered); err != nil {
			return c.Status(500).SendString("Error storing subscriptions")
		}
		return c.Status(200).SendString("OK")
	})

	api.Get("/profiles", func(c *fiber.Ctx) error {
		profs, err := config.Store.GetProfiles(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading profiles")
		}
		if profs == nil {
			profs = []models.Profile{}
		}
		return c.JSON(profs)
	})

	api.Post("/profiles", func(c *fiber.Ctx) error {
		var profile models.Profile
		if err := c.BodyParser(&profile); err != nil {
			return c.Status(400).SendString("Invalid profile payload")
		}
		profile.ID = uuid.New().String()

		profs, err := config.Store.GetProfiles(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading profiles")
		}
		profs = append(profs, profile)
		if err := config.Store.PutProfiles(c.Context(), profs); err != nil {
			return c.Status(500).SendString("Error storing profiles")
		}
		return c.Status(201).JSON(profile)
	})

	api.Put("/profiles/:id", func(c *fiber.Ctx) error {
		var profile models.Profile
		if err := c.BodyParser(&profile); err != nil {
			return c.Status(400).SendString("Invalid profile payload")
		}
		profile.ID = c.Params("id")

		profs, err := config.Store.GetProfiles(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading profiles")
		}
		_, idx, found := lo.FindIndexOf(profs, func(p models.Profile) bool {
			return p.ID == profile.ID
		})
		if !found {
			return c.Status(404).SendString("Profile not found")
		}
		profs[idx] = profile
		if err := config.Store.PutProfiles(c.Context(), profs); err != nil {
			return c.Status(500).SendString("Error storing profiles")
		}
		return c.JSON(profile)
	})

	api.Delete("/profiles/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")

		profs, err := config.Store.GetProfiles(c.Context())
		if err != nil {
			return c.Status(500).SendString("Error reading profiles")
		}
		filtered := lo.Filter(profs, func(p models.Profile, _ int) bool {
			return p.ID != id
		})
		if len(filtered) == len(profs) {
			return c.Status(404).SendString("Profile not found")
		}
		if err := config.Store.PutProfiles(c.Context(), filtered); err != nil {
			return c.Status(500).SendString("Error storing profiles")
		}
		return c.Status(200).SendString("OK")
	})
}
