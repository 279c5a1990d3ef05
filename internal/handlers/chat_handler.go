package handlers

import (
	"context"
	"strconv"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/oaa-dev/service-system-sub003/internal/middleware"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/realtime"
	"github.com/oaa-dev/service-system-sub003/internal/services"
	"github.com/rs/zerolog"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64, page models.Page) ([]models.ConversationSummary, int, error)
	OpenConversation(ctx context.Context, actorID int64, conversationID int64) (*models.ConversationView, error)
	StartConversation(ctx context.Context, actorID int64, recipientID int64, body *string) (*services.StartedConversation, error)
	DeleteConversation(ctx context.Context, actorID int64, conversationID int64) error
	ListMessages(ctx context.Context, actorID int64, conversationID int64, page models.Page) ([]models.ChatMessage, int, error)
	SendMessage(ctx context.Context, actorID int64, conversationID int64, body string) (*models.ChatMessage, error)
	MarkAsRead(ctx context.Context, actorID int64, conversationID int64) (*models.ReadReceipt, error)
	DeleteMessage(ctx context.Context, actorID int64, messageID int64) error
	GetTotalUnreadCount(ctx context.Context, actorID int64) (int, error)
	SearchMessages(ctx context.Context, actorID int64, query string, page models.Page) ([]models.ChatMessage, int, error)
}

type ChatHandler struct {
	service     chatApplicationService
	hub         *realtime.Hub
	wsPerSecond float64
	log         zerolog.Logger
}

type startConversationRequest struct {
	RecipientID int64   `json:"recipient_id" validate:"required,gt=0"`
	Body        *string `json:"body"`
}

type sendMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

func NewChatHandler(service chatApplicationService, hub *realtime.Hub, wsPerSecond float64, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:     service,
		hub:         hub,
		wsPerSecond: wsPerSecond,
		log:         log.With().Str("component", "chat_handler").Logger(),
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	page, err := parsePage(c)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	conversations, total, err := h.service.ListConversations(c.Context(), userID, page)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respondPage(c, conversations, page, total)
}

func (h *ChatHandler) StartConversation(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	var req startConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if details := validateRequest(req); details != nil {
		return unprocessable(c, details)
	}

	started, err := h.service.StartConversation(c.Context(), userID, req.RecipientID, req.Body)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	status := fiber.StatusOK
	if started.Created {
		status = fiber.StatusCreated
	}
	return respond(c, status, fiber.Map{
		"conversation": started.Conversation,
		"message":      started.Message,
		"created":      started.Created,
	})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	conversationID, ok := pathID(c)
	if !ok {
		return mapChatError(c, h.log, services.ErrNotFound)
	}

	view, err := h.service.OpenConversation(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respond(c, fiber.StatusOK, view)
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	conversationID, ok := pathID(c)
	if !ok {
		return mapChatError(c, h.log, services.ErrNotFound)
	}

	if err := h.service.DeleteConversation(c.Context(), userID, conversationID); err != nil {
		return mapChatError(c, h.log, err)
	}

	return respond(c, fiber.StatusOK, nil)
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	conversationID, ok := pathID(c)
	if !ok {
		return mapChatError(c, h.log, services.ErrNotFound)
	}

	page, err := parsePage(c)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	messages, total, err := h.service.ListMessages(c.Context(), userID, conversationID, page)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respondPage(c, messages, page, total)
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	conversationID, ok := pathID(c)
	if !ok {
		return mapChatError(c, h.log, services.ErrNotFound)
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if details := validateRequest(req); details != nil {
		return unprocessable(c, details)
	}

	message, err := h.service.SendMessage(c.Context(), userID, conversationID, req.Body)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respond(c, fiber.StatusCreated, message)
}

func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	conversationID, ok := pathID(c)
	if !ok {
		return mapChatError(c, h.log, services.ErrNotFound)
	}

	receipt, err := h.service.MarkAsRead(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respond(c, fiber.StatusOK, receipt)
}

func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	messageID, ok := pathID(c)
	if !ok {
		return mapChatError(c, h.log, services.ErrNotFound)
	}

	if err := h.service.DeleteMessage(c.Context(), userID, messageID); err != nil {
		return mapChatError(c, h.log, err)
	}

	return respond(c, fiber.StatusOK, nil)
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	count, err := h.service.GetTotalUnreadCount(c.Context(), userID)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respond(c, fiber.StatusOK, fiber.Map{"unread_count": count})
}

func (h *ChatHandler) SearchMessages(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token", nil)
	}

	page, err := parsePage(c)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	messages, total, err := h.service.SearchMessages(c.Context(), userID, c.Query("q"), page)
	if err != nil {
		return mapChatError(c, h.log, err)
	}

	return respondPage(c, messages, page, total)
}

// HandleWebSocket runs after middleware.WebSocketAuth, so the user id is in
// the connection locals.
func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, ok := conn.Locals(middleware.LocalUserID).(int64)
	if !ok || userID <= 0 {
		_ = conn.Close()
		return
	}

	client := realtime.NewClient(h.hub, conn, userID, h.wsPerSecond)
	h.hub.Register(client)
	client.Serve(context.Background(), h.service)
}

func pathID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
