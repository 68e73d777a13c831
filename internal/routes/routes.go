package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/settings"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Config         *config.Config
	Repo           repository.Repository
	Checkout       *services.CheckoutService
	Reconciliation *services.ReconciliationService
	Settings       *settings.Service
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(d.Gatherer)))
	}

	authHandler := handlers.NewAuthHandler(d.Repo, d.Config, d.Logger)
	productHandler := handlers.NewProductHandler(d.Repo, d.Reconciliation, d.Logger)
	orderHandler := handlers.NewOrderHandler(d.Repo, d.Checkout, d.Reconciliation)
	paymentHandler := handlers.NewPaymentHandler(d.Repo, d.Reconciliation)
	adminHandler := handlers.NewAdminHandler(d.Repo, d.Reconciliation)
	settingsHandler := handlers.NewSettingsHandler(d.Settings)

	api := app.Group("/api", middleware.StoreSettings(d.Settings, d.Logger))

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// Catalog
	products := api.Group("/products")
	products.Get("/", productHandler.ListProducts)
	products.Get("/:id", productHandler.GetProduct)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(d.Config))

	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
	protected.Post("/orders/:id/pay", orderHandler.PayOrder)

	// Back office
	admin := api.Group("/admin", middleware.AuthMiddleware(d.Config), middleware.RequireAdmin())

	admin.Get("/dashboard", adminHandler.DashboardStats)

	admin.Get("/orders", adminHandler.ListOrders)
	admin.Post("/orders/:id/ship", adminHandler.ShipOrder)
	admin.Post("/orders/:id/deliver", adminHandler.DeliverOrder)
	admin.Get("/orders/:id/movements", adminHandler.ListOrderMovements)

	admin.Get("/payments", paymentHandler.ListPendingPayments)
	admin.Post("/payments/:id/approve", paymentHandler.ApprovePayment)
	admin.Post("/payments/:id/reject", paymentHandler.RejectPayment)

	admin.Post("/products", productHandler.CreateProduct)
	admin.Delete("/products/:id", productHandler.DeleteProduct)
	admin.Post("/products/:id/stock", productHandler.RestockProduct)
	admin.Get("/products/:id/movements", productHandler.ListProductMovements)

	admin.Get("/settings", settingsHandler.GetSettings)
	admin.Put("/settings", settingsHandler.UpdateSettings)
}
