package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/settings"
	"github.com/example/storefront/internal/utils"
)

const maxSlugAttempts = 20

// ProductHandler serves the catalog and its back-office stock operations.
type ProductHandler struct {
	repo   repository.Repository
	recon  *services.ReconciliationService
	logger *zap.Logger
}

// NewProductHandler constructs ProductHandler.
func NewProductHandler(repo repository.Repository, recon *services.ReconciliationService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{repo: repo, recon: recon, logger: logger}
}

// ListProducts returns paginated active products.
func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	products, total, err := h.repo.ListProducts(c.UserContext(), pg.Window())
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       products,
		"pagination": pg.Meta(total),
	})
}

// GetProduct loads an active product with its variants.
func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	product, err := h.repo.FindProduct(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !product.IsActive) {
		return fiber.NewError(fiber.StatusNotFound, "product not found")
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": product})
}

type variantRequest struct {
	SKU      string  `json:"sku" validate:"max=64"`
	Label    string  `json:"label" validate:"required,max=120"`
	Price    float64 `json:"price" validate:"gte=0"`
	ImageURL string  `json:"image_url" validate:"omitempty,url"`
	Stock    int     `json:"stock" validate:"gte=0"`
}

type productRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description"`
	Price       float64          `json:"price" validate:"gt=0"`
	Currency    string           `json:"currency" validate:"omitempty,len=3"`
	ImageURL    string           `json:"image_url" validate:"omitempty,url"`
	Stock       int              `json:"stock" validate:"gte=0"`
	IsActive    *bool            `json:"is_active"`
	Variants    []variantRequest `json:"variants" validate:"dive"`
}

// CreateProduct adds a product. Opening stock is booked through the
// inventory ledger, in the same transaction, as RESTOCK movements.
func (h *ProductHandler) CreateProduct(c *fiber.Ctx) error {
	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(err.Error())
	}

	ctx := c.UserContext()
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = settings.FromContext(ctx).Currency()
	}

	product := models.Product{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       utils.ParseClientAmount(req.Price),
		Currency:    currency,
		ImageURL:    req.ImageURL,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	for _, v := range req.Variants {
		product.Variants = append(product.Variants, models.ProductVariant{
			SKU:      v.SKU,
			Label:    strings.TrimSpace(v.Label),
			Price:    utils.ParseClientAmount(v.Price),
			ImageURL: v.ImageURL,
			IsActive: true,
		})
	}

	variantStock := make([]int, len(req.Variants))
	for i, v := range req.Variants {
		variantStock[i] = v.Stock
	}

	if err := h.createWithUniqueSlug(c, services.NewProductRequest{
		Product:      &product,
		Stock:        req.Stock,
		VariantStock: variantStock,
		Actor:        actorOf(c),
	}); err != nil {
		return err
	}

	h.logger.Info("product created", zap.String("product_id", product.ID.String()), zap.String("slug", product.Slug))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": product})
}

// createWithUniqueSlug retries the whole insert with a numbered slug while
// the slug is taken. Each attempt is its own transaction.
func (h *ProductHandler) createWithUniqueSlug(c *fiber.Ctx, req services.NewProductRequest) error {
	product := req.Product
	base := slug.Make(product.Name)
	if base == "" {
		base = "product"
	}

	candidate := base
	for i := 1; i <= maxSlugAttempts; i++ {
		product.Slug = candidate
		err := h.recon.CreateProduct(c.UserContext(), req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		product.ID = uuid.Nil
		for j := range product.Variants {
			product.Variants[j].ID = uuid.Nil
			product.Variants[j].ProductID = uuid.Nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return fiber.NewError(fiber.StatusConflict, "could not find a free slug for "+product.Name)
}

// DeleteProduct removes a product. Past orders keep their line snapshots.
func (h *ProductHandler) DeleteProduct(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.repo.DeleteProduct(c.UserContext(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "product not found")
		}
		return err
	}

	h.logger.Info("product deleted", zap.String("product_id", id.String()), zap.String("actor", actorOf(c)))
	return c.SendStatus(fiber.StatusNoContent)
}

type restockRequest struct {
	VariantID *uuid.UUID `json:"variant_id"`
	Quantity  int        `json:"quantity" validate:"required,gt=0"`
	Reason    string     `json:"reason" validate:"max=255"`
}

// RestockProduct adds purchased stock to a product or one of its variants.
func (h *ProductHandler) RestockProduct(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req restockRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(err.Error())
	}

	movement, err := h.recon.Restock(c.UserContext(), services.RestockRequest{
		ProductID: id,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Actor:     actorOf(c),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": movement})
}

// ListProductMovements returns the inventory ledger of a product.
func (h *ProductHandler) ListProductMovements(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	movements, err := h.repo.ListMovements(c.UserContext(), repository.MovementFilter{ProductID: &id})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": movements})
}

// actorOf names the authenticated user in audit fields.
func actorOf(c *fiber.Ctx) string {
	if id, ok := middleware.GetCurrentUserID(c); ok {
		return id.String()
	}
	return "anonymous"
}
