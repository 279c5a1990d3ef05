package routes

import (
	"errors"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oaa-dev/service-system-sub003/internal/config"
	"github.com/oaa-dev/service-system-sub003/internal/handlers"
	"github.com/oaa-dev/service-system-sub003/internal/middleware"
	"github.com/oaa-dev/service-system-sub003/internal/realtime"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
	"github.com/oaa-dev/service-system-sub003/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies are the long-lived components built by cmd/server.
type Dependencies struct {
	Config   *config.Config
	DB       *pgxpool.Pool
	Hub      *realtime.Hub
	Notifier services.Notifier
	Log      zerolog.Logger
}

func RegisterRoutes(app *fiber.App, deps Dependencies) error {
	cfg := deps.Config
	if cfg == nil || deps.DB == nil || deps.Hub == nil {
		return errors.New("routes: config, database and hub are required")
	}

	chatService := services.NewChatService(
		services.NewPostgresStore(deps.DB),
		deps.Notifier,
		services.ChatConfig{
			Limits: services.Limits{
				MaxMessageLength:     cfg.MaxMessageLength,
				MaxSearchQueryLength: cfg.MaxSearchQueryLength,
			},
			NotifyTimeout: cfg.NotifyTimeout,
		},
		deps.Log,
	)

	authHandler := handlers.NewAuthHandler(repository.NewUserRepository(deps.DB), cfg.JWTSecret, deps.Log)
	chatHandler := handlers.NewChatHandler(chatService, deps.Hub, cfg.WSMessagesPerSecond, deps.Log)

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := deps.DB.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	api.Get("/v1/ws", middleware.WebSocketAuth(cfg.JWTSecret), websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.StartConversation)
	conversations.Get("/:id", chatHandler.GetConversation)
	conversations.Delete("/:id", chatHandler.DeleteConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkAsRead)

	messages := authProtected.Group("/messages")
	messages.Get("/unread-count", chatHandler.UnreadCount)
	messages.Get("/search", chatHandler.SearchMessages)
	messages.Delete("/:id", chatHandler.DeleteMessage)

	return nil
}
