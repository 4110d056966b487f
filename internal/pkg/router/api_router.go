package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/keyquill/keyquill/app/controllers"
	"github.com/keyquill/keyquill/internal/pkg/constants"
	"github.com/keyquill/keyquill/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes, authenticated by user API key
	v1 := api.Group(constants.APIV1Route, middleware.APIKeyAuthMiddleware())
	v1.Post("/keywords/research", controllers.HandleKeywordResearch)
	v1.Get("/keywords/history", controllers.HandleResearchHistory)
	v1.Get("/credits", controllers.HandleGetCredits)
	v1.Get("/credits/transactions", controllers.HandleListCreditTransactions)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
