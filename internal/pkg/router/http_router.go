package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/keyquill/keyquill/app/controllers"
	"github.com/keyquill/keyquill/internal/pkg/middleware"
	"github.com/keyquill/keyquill/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerUserRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Auth
	app.Post("/register", controllers.HandleAuthRegister)
	app.Post("/login", controllers.HandleAuthLogin)
	app.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)

	// Plan catalog is public
	app.Get("/plans", controllers.HandleListPlans)

	// Payment provider callbacks (no session, signature-verified in controller)
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
	app.Get("/billing/return", controllers.HandleCheckoutReturn)
}

func (h HttpRouter) registerUserRoutes(app *fiber.App) {
	// Billing (session auth)
	app.Post("/billing/checkout", middleware.RequireAPISessionAuth, controllers.HandleCreateCheckout)
	app.Get("/billing/subscription", middleware.RequireAPISessionAuth, controllers.HandleGetSubscription)

	// Credits (session auth)
	app.Get("/user/credits", middleware.RequireAPISessionAuth, controllers.HandleGetCredits)
	app.Get("/user/credits/transactions", middleware.RequireAPISessionAuth, controllers.HandleListCreditTransactions)

	// API key management (session auth only, never API-key auth)
	app.Post("/user/settings/api-key", middleware.RequireAPISessionAuth, controllers.HandleIssueAPIKey)
	app.Post("/user/settings/api-key/revoke", middleware.RequireAPISessionAuth, controllers.HandleRevokeAPIKey)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin)
	adminGroup.Get("/users", controllers.HandleAdminListUsers)
	adminGroup.Get("/jobs", controllers.HandleAdminJobStats)

	// Settlement operations
	adminGroup.Post("/settlement/reconcile", controllers.HandleAdminReconcile)
	adminGroup.Post("/settlement/reconcile/:checkout_id", controllers.HandleAdminReconcileOrder)
	adminGroup.Get("/settlement/unfulfilled", controllers.HandleAdminUnfulfilledOrders)

	// Statement exports
	adminGroup.Post("/users/:user_id/statement", controllers.HandleAdminExportStatement)

	// Ledger reconciliation
	adminGroup.Get("/users/:user_id/credits/audit", controllers.HandleAdminAuditBalance)
}
