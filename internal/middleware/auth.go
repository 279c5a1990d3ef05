package middleware

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/oaa-dev/service-system-sub003/pkg/utils"
)

const (
	LocalUserID = "user_id"
	localRole   = "role"
)

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Missing authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return unauthorized(c, "Invalid authorization header format")
		}

		return authenticate(c, parts[1], secret)
	}
}

// WebSocketAuth authenticates upgrade requests with the token query
// parameter, since browsers cannot set headers on websocket handshakes.
func WebSocketAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "upgrade_required",
					"message": "Websocket upgrade required",
				},
			})
		}

		token := c.Query("token")
		if token == "" {
			return unauthorized(c, "Missing token")
		}
		return authenticate(c, token, secret)
	}
}

func authenticate(c *fiber.Ctx, token, secret string) error {
	claims, err := utils.ValidateToken(token, secret)
	if err != nil {
		return unauthorized(c, "Invalid or expired token")
	}

	c.Locals(LocalUserID, claims.UserID)
	c.Locals(localRole, claims.Role)

	return c.Next()
}

// UserID returns the authenticated user set by AuthRequired or WebSocketAuth.
func UserID(c *fiber.Ctx) (int64, bool) {
	userID, ok := c.Locals(LocalUserID).(int64)
	return userID, ok && userID > 0
}

func Role(c *fiber.Ctx) string {
	role, _ := c.Locals(localRole).(string)
	return role
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    "unauthorized",
			"message": message,
		},
	})
}
