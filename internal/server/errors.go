package server

import (
	"errors"

	"retail-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// errorHandler is the only place an error becomes an HTTP status. The body
// is always {"error": CODE, "message": text}.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if e, ok := apperr.As(err); ok {
			if e.Status() >= fiber.StatusInternalServerError {
				log.Error("request failed", errorFields(c, err)...)
			}
			return c.Status(e.Status()).JSON(fiber.Map{
				"error":   e.Code,
				"message": e.Message,
			})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := apperr.CodeInvalidRequest
			switch {
			case fe.Code == fiber.StatusNotFound:
				code = apperr.CodeNotFound
			case fe.Code >= fiber.StatusInternalServerError:
				code = apperr.CodeInternal
				log.Error("request failed", errorFields(c, err)...)
			}
			return c.Status(fe.Code).JSON(fiber.Map{
				"error":   code,
				"message": fe.Message,
			})
		}

		log.Error("unexpected error", errorFields(c, err)...)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   apperr.CodeInternal,
			"message": "unexpected server error",
		})
	}
}

func errorFields(c *fiber.Ctx, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	}
	if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	return fields
}
