package router

import (
	apiv1 "github.com/JanKoller/TicketHive/internal/api/v1"
	"github.com/JanKoller/TicketHive/internal/pkg/billing"
	"github.com/JanKoller/TicketHive/internal/pkg/database"
	"github.com/JanKoller/TicketHive/internal/pkg/middleware"
	"github.com/JanKoller/TicketHive/internal/pkg/subscriptions"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	db := database.GetDB()
	apiServer := apiv1.NewAPIServer(subscriptions.NewServiceFromDB(db), billing.NewServiceFromDB(db))

	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, apiServer, middleware.AdminAPIKeyMiddleware())
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
