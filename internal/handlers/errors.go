package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/settings"
)

// ErrorHandler renders every error returned by a handler as
// {"success": false, "error": {"code", "message"}}.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code, message := describe(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error": fiber.Map{
				"code":    code,
				"message": message,
			},
		})
	}
}

func describe(err error) (int, string, string) {
	var se *services.ServiceError
	if errors.As(err, &se) {
		return se.Kind.Status, se.Kind.Name, se.Message
	}

	var ve *settings.ValidationError
	if errors.As(err, &ve) {
		return fiber.StatusBadRequest, services.KindValidation.Name, ve.Error()
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, codeFor(fe.Code), fe.Message
	}

	return fiber.StatusInternalServerError, services.KindUnexpected.Name, services.KindUnexpected.Message
}

func codeFor(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return services.KindValidation.Name
	case fiber.StatusUnauthorized:
		return "Unauthorized"
	case fiber.StatusForbidden:
		return "Forbidden"
	case fiber.StatusNotFound:
		return services.KindNotFound.Name
	case fiber.StatusConflict:
		return services.KindConflict.Name
	}
	if status >= fiber.StatusInternalServerError {
		return services.KindUnexpected.Name
	}
	return "Error"
}

func badRequest(message string) error {
	return fiber.NewError(fiber.StatusBadRequest, message)
}

func parseID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}
