package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/treinanr/academy/middleware"
	ws "github.com/treinanr/academy/websocket"
)

func WebsocketRoutes(app *fiber.App, hub *ws.Hub, jwtSecret string) {
	api := app.Group("/api/v1")

	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, middleware.ProtectedQuery(jwtSecret), func(c *fiber.Ctx) error {
		userID, err := middleware.UserID(c)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Token does not identify a user")
		}
		c.Locals(ws.UserIDLocal, userID)
		return c.Next()
	})
	api.Get("/ws", hub.Handler())
}
