package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/services"
	"github.com/rs/zerolog"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func respondPage(c *fiber.Ctx, data any, page models.Page, total int) error {
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       data,
		"pagination": buildPaginationMeta(page.Number, page.Limit, total),
	})
}

func fail(c *fiber.Ctx, status int, code, message string, details map[string]string) error {
	body := fiber.Map{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   body,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return fail(c, fiber.StatusBadRequest, "bad_request", message, nil)
}

func unprocessable(c *fiber.Ctx, details map[string]string) error {
	return fail(c, fiber.StatusUnprocessableEntity, "validation_failed", "The given data was invalid", details)
}

// validateRequest runs the struct tags of req and reports failures per json
// field name.
func validateRequest(req any) map[string]string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"request": err.Error()}
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describeTag(fe)
	}
	return details
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}

func mapChatError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		return unprocessable(c, map[string]string{validation.Field: validation.Reason})
	case errors.Is(err, services.ErrInvalidPeer):
		return fail(c, fiber.StatusUnprocessableEntity, "invalid_peer", "Cannot start a conversation with yourself", nil)
	case errors.Is(err, services.ErrValidation):
		return unprocessable(c, nil)
	case errors.Is(err, services.ErrForbidden):
		return fail(c, fiber.StatusForbidden, "forbidden", "Forbidden", nil)
	case errors.Is(err, services.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "not_found", "Not found", nil)
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("chat request failed")
		return fail(c, fiber.StatusInternalServerError, "internal_error", "Failed to process chat request", nil)
	}
}
