package router

import (
	"github.com/JanKoller/TicketHive/app/controllers"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Processor webhooks carry no API key; the HMAC signature inside the
	// handler is the authentication.
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
