package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

// HeaderIdempotencyKey lets clients retry a card payment safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// OrderHandler manages customer order endpoints.
type OrderHandler struct {
	repo     repository.Repository
	checkout *services.CheckoutService
	recon    *services.ReconciliationService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(repo repository.Repository, checkout *services.CheckoutService, recon *services.ReconciliationService) *OrderHandler {
	return &OrderHandler{repo: repo, checkout: checkout, recon: recon}
}

// CreateOrder places an order for the authenticated user.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req services.PlaceOrderInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	req.UserID = &userID

	order, payment, err := h.checkout.PlaceOrder(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"order":           order,
			"pending_payment": payment,
		},
	})
}

// ListOrders returns the authenticated user's orders.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	orders, total, err := h.repo.ListOrders(c.UserContext(), repository.OrderFilter{
		UserID: &userID,
		Page:   pg.Window(),
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

// GetOrder returns one order. Customers only see their own orders.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.ownedOrder(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

func (h *OrderHandler) ownedOrder(c *fiber.Ctx) (*models.Order, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}

	order, err := h.repo.FindOrder(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return nil, err
	}

	if middleware.GetCurrentRole(c) == models.RoleAdmin {
		return order, nil
	}
	userID, _ := middleware.GetCurrentUserID(c)
	if order.UserID == nil || *order.UserID != userID {
		return nil, fiber.NewError(fiber.StatusNotFound, "order not found")
	}
	return order, nil
}

type payOrderRequest struct {
	SourceToken string `json:"source_token" validate:"required"`
}

// PayOrder charges the card of a pending card order.
func (h *OrderHandler) PayOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req payOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(err.Error())
	}

	order, err := h.recon.ProcessCardPayment(c.UserContext(), services.CardPaymentRequest{
		OrderID:        id,
		SourceToken:    req.SourceToken,
		IdempotencyKey: strings.TrimSpace(c.Get(HeaderIdempotencyKey)),
		CustomerID:     &userID,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}
