package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

// AdminHandler manages admin-only order endpoints.
type AdminHandler struct {
	repo  repository.Repository
	recon *services.ReconciliationService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(repo repository.Repository, recon *services.ReconciliationService) *AdminHandler {
	return &AdminHandler{repo: repo, recon: recon}
}

// DashboardStats returns order counts per status and the size of the
// manual payment queue.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	counts, err := h.repo.CountOrdersByStatus(ctx)
	if err != nil {
		return err
	}

	ordersByStatus := make(map[string]int64, len(counts))
	var totalOrders int64
	for status, n := range counts {
		ordersByStatus[string(status)] = n
		totalOrders += n
	}

	_, pendingPayments, err := h.repo.ListPendingPayments(ctx, repository.PendingPaymentFilter{
		Status: models.PendingPaymentPending,
		Page:   repository.Page{Limit: 1},
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_orders":     totalOrders,
			"orders_by_status": ordersByStatus,
			"pending_payments": pendingPayments,
		},
	})
}

// ListOrders returns every order, optionally filtered by status and payment_status.
func (h *AdminHandler) ListOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	orders, total, err := h.repo.ListOrders(c.UserContext(), repository.OrderFilter{
		Status:        lifecycle.Status(c.Query("status")),
		PaymentStatus: lifecycle.PaymentStatus(c.Query("payment_status")),
		Page:          pg.Window(),
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"max=120"`
}

// ShipOrder marks a paid order as shipped.
func (h *AdminHandler) ShipOrder(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req shipOrderRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(err.Error())
	}

	order, err := h.recon.Ship(c.UserContext(), id, req.TrackingNumber)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// DeliverOrder marks a shipped order as delivered.
func (h *AdminHandler) DeliverOrder(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	order, err := h.recon.Deliver(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// ListOrderMovements returns the stock movements an order caused.
func (h *AdminHandler) ListOrderMovements(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	movements, err := h.repo.ListMovements(c.UserContext(), repository.MovementFilter{OrderID: &id})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": movements})
}
