package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

// PaymentHandler lets staff verify manual payments.
type PaymentHandler struct {
	repo  repository.Repository
	recon *services.ReconciliationService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(repo repository.Repository, recon *services.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{repo: repo, recon: recon}
}

// ListPendingPayments returns manual payments, pending ones by default.
// Pass status=all for every payment.
func (h *PaymentHandler) ListPendingPayments(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	filter := repository.PendingPaymentFilter{Page: pg.Window()}
	switch status := c.Query("status", string(models.PendingPaymentPending)); status {
	case "all":
	case string(models.PendingPaymentPending), string(models.PendingPaymentVerified), string(models.PendingPaymentRejected):
		filter.Status = models.PendingPaymentStatus(status)
	default:
		return badRequest("unknown status " + status)
	}

	payments, total, err := h.repo.ListPendingPayments(c.UserContext(), filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       payments,
		"pagination": pg.Meta(total),
	})
}

// ApprovePayment marks a manual payment verified and its order paid.
func (h *PaymentHandler) ApprovePayment(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	payment, err := h.recon.ApprovePendingPayment(c.UserContext(), id, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": payment})
}

type rejectPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// RejectPayment rejects a manual payment and cancels its order.
func (h *PaymentHandler) RejectPayment(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req rejectPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(err.Error())
	}

	payment, err := h.recon.RejectPendingPayment(c.UserContext(), id, actorOf(c), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": payment})
}
