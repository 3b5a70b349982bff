package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/auth"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/chat"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/middleware"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/store"
	"github.com/ADY0404/ArtisanConnect-sub002/internal/ws"
)

// PresenceReader exposes the stored presence record for diagnostics.
type PresenceReader interface {
	Get(ctx context.Context, userID string) (bool, time.Time, error)
}

type Deps struct {
	WS        *ws.Server
	Messages  chat.MessageStore
	Presence  PresenceReader
	Validator *auth.Validator // nil disables upgrade-token checks
	Limiter   *middleware.RateLimiter
}

// New assembles the fiber application: websocket endpoint, message history
// REST, and health.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	v1 := app.Group("/v1")
	if d.Limiter != nil {
		v1.Use(d.Limiter.ByIP())
	}

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Get("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if d.Validator != nil {
			if _, err := d.Validator.Validate(c.Query("token")); err != nil {
				return fiber.ErrUnauthorized
			}
		}
		return c.Next()
	})
	v1.Get("/ws", websocket.New(d.WS.Handle()))

	v1.Get("/presence/:user_id", func(c *fiber.Ctx) error {
		online, lastSeen, err := d.Presence.Get(c.Context(), c.Params("user_id"))
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown user"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load presence"})
		}
		return c.JSON(fiber.Map{"userId": c.Params("user_id"), "isOnline": online, "lastSeen": lastSeen})
	})

	v1.Get("/bookings/:booking_id/messages", func(c *fiber.Ctx) error {
		limit := int64(c.QueryInt("limit", 50))
		msgs, err := d.Messages.Recent(c.Context(), c.Params("booking_id"), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load messages"})
		}
		return c.JSON(fiber.Map{"status": "success", "data": msgs})
	})

	return app
}
