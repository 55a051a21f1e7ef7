package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/treinanr/academy/handlers"
	"github.com/treinanr/academy/middleware"
)

func CertificateRoutes(app *fiber.App, h *handlers.CertificateHandler, jwtSecret string) {
	api := app.Group("/api/v1")

	api.Get("/certificates/verify/:code", h.Verify)

	certificates := api.Group("/certificates", middleware.Protected(jwtSecret))
	certificates.Post("", h.Issue)
	certificates.Get("/me", h.ListMine)
}
