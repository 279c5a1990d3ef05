package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/services"
)

const defaultPageLimit = 20

// parsePage reads page and limit from the query string. Range checks are
// left to the service so HTTP and websocket callers agree.
func parsePage(c *fiber.Ctx) (models.Page, error) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return models.Page{}, err
	}
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil {
		return models.Page{}, err
	}
	return models.Page{Number: page, Limit: limit}, nil
}

func queryInt(c *fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &services.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return value, nil
}

func buildPaginationMeta(page, limit, total int) models.PaginationMeta {
	totalPages := 0
	if total > 0 && limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	return models.PaginationMeta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}
