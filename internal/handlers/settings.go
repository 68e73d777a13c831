package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/settings"
)

// SettingsHandler exposes the store settings to staff.
type SettingsHandler struct {
	svc *settings.Service
}

func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	snapshot, err := h.svc.Current(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": snapshot.Values()})
}

// UpdateSettings saves every key of the body. Keys are validated one by one
// and the first invalid key stops the update.
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	var req map[string]string
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if len(req) == 0 {
		return badRequest("no settings given")
	}

	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := h.svc.Set(c.UserContext(), k, req[k]); err != nil {
			return err
		}
	}

	snapshot, err := h.svc.Current(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": snapshot.Values()})
}
