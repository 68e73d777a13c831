package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/settings"
)

// StoreSettings attaches the current settings snapshot to the request context.
// If the settings cannot be loaded the built-in defaults are used.
func StoreSettings(svc *settings.Service, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		snapshot, err := svc.Current(ctx)
		if err != nil {
			logger.Warn("settings unavailable, using defaults", zap.Error(err))
			snapshot = settings.Defaults()
		}
		c.SetUserContext(settings.WithContext(ctx, snapshot))
		return c.Next()
	}
}
