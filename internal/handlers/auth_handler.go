package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/middleware"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
	"github.com/oaa-dev/service-system-sub003/pkg/utils"
	"github.com/rs/zerolog"
)

const defaultRole = "user"

type userAccounts interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type AuthHandler struct {
	users     userAccounts
	jwtSecret string
	log       zerolog.Logger
}

func NewAuthHandler(users userAccounts, jwtSecret string, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		users:     users,
		jwtSecret: jwtSecret,
		log:       log.With().Str("component", "auth_handler").Logger(),
	}
}

type registerRequest struct {
	Email     string  `json:"email" validate:"required,email,max=255"`
	Password  string  `json:"password" validate:"required,min=8,max=72"`
	Name      string  `json:"name" validate:"required,max=100"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url,max=2048"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if details := validateRequest(req); details != nil {
		return unprocessable(c, details)
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("hash password")
		return fail(c, fiber.StatusInternalServerError, "internal_error", "Failed to hash password", nil)
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hashed,
		Name:         req.Name,
		AvatarURL:    req.AvatarURL,
		Role:         defaultRole,
	}
	if err := h.users.CreateUser(c.Context(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fail(c, fiber.StatusConflict, "email_taken", "Email already exists", nil)
		}
		h.log.Error().Err(err).Msg("create user")
		return fail(c, fiber.StatusInternalServerError, "internal_error", "Failed to create user", nil)
	}

	return h.issueToken(c, fiber.StatusCreated, user)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if details := validateRequest(req); details != nil {
		return unprocessable(c, details)
	}

	user, err := h.users.GetByEmail(c.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(c, fiber.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		}
		h.log.Error().Err(err).Msg("lookup user")
		return fail(c, fiber.StatusInternalServerError, "internal_error", "Failed to lookup user", nil)
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return fail(c, fiber.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
	}

	return h.issueToken(c, fiber.StatusOK, user)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	user, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(c, fiber.StatusNotFound, "not_found", "User not found", nil)
		}
		h.log.Error().Err(err).Msg("load current user")
		return fail(c, fiber.StatusInternalServerError, "internal_error", "Failed to load user", nil)
	}

	return respond(c, fiber.StatusOK, user)
}

func (h *AuthHandler) issueToken(c *fiber.Ctx, status int, user *models.User) error {
	token, err := utils.GenerateToken(user.ID, user.Role, h.jwtSecret)
	if err != nil {
		h.log.Error().Err(err).Msg("generate token")
		return fail(c, fiber.StatusInternalServerError, "internal_error", "Failed to generate token", nil)
	}
	return respond(c, status, authResponse{Token: token, User: user})
}
