package services

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
)

type userStore interface {
	GetProfile(ctx context.Context, id int64) (*models.PublicProfile, error)
}

type conversationStore interface {
	FindByPair(ctx context.Context, pair models.Pair) (*models.Conversation, error)
	CreateWithParticipants(ctx context.Context, pair models.Pair) (*models.Conversation, error)
	LockByID(ctx context.Context, conversationID int64) (*models.Conversation, error)
	TouchLastMessage(ctx context.Context, conversationID int64, at time.Time) error
	GetViewForUser(ctx context.Context, conversationID int64, userID int64) (*models.ConversationView, error)
	ListForUser(ctx context.Context, userID int64, page models.Page) ([]models.ConversationSummary, int, error)
}

type participantStore interface {
	Get(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error)
	Restore(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error)
	IncrementUnread(ctx context.Context, conversationID int64, userID int64) (int, error)
	MarkRead(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error)
	SoftDelete(ctx context.Context, conversationID int64, userID int64) error
	TotalUnread(ctx context.Context, userID int64) (int, error)
}

type messageStore interface {
	Create(ctx context.Context, conversationID int64, senderID int64, body string) (*models.ChatMessage, error)
	GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error)
	Latest(ctx context.Context, conversationID int64) (*models.ChatMessage, error)
	ListByConversation(ctx context.Context, conversationID int64, page models.Page) ([]models.ChatMessage, int, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerID int64) (int64, error)
	SearchForUser(ctx context.Context, userID int64, query string, page models.Page) ([]models.ChatMessage, int, error)
	SoftDelete(ctx context.Context, messageID int64, senderID int64) (bool, error)
}

// Repos is the set of stores a chat operation works against. Inside InTx all
// of them share one transaction.
type Repos struct {
	Users         userStore
	Conversations conversationStore
	Participants  participantStore
	Messages      messageStore
}

type Store interface {
	Repos() Repos
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

type postgresStore struct {
	store *repository.Store
}

func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{store: repository.NewStore(pool)}
}

func (s *postgresStore) Repos() Repos {
	return fromRepositories(s.store.Repositories())
}

func (s *postgresStore) InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	return s.store.InTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return fn(ctx, fromRepositories(repos))
	})
}

func fromRepositories(repos repository.Repositories) Repos {
	return Repos{
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Participants:  repos.Participants,
		Messages:      repos.Messages,
	}
}
