package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/metrics"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const DefaultNotifyTimeout = 5 * time.Second

type ChatConfig struct {
	Limits        Limits
	NotifyTimeout time.Duration
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Limits:        DefaultLimits(),
		NotifyTimeout: DefaultNotifyTimeout,
	}
}

type ChatService struct {
	store    Store
	notifier Notifier
	cfg      ChatConfig
	log      zerolog.Logger
}

// StartedConversation is the result of StartConversation. Message is nil when
// no initial body was given.
type StartedConversation struct {
	Conversation *models.ConversationView `json:"conversation"`
	Message      *models.ChatMessage      `json:"message"`
	Created      bool                     `json:"created"`
}

func NewChatService(
	store Store,
	notifier Notifier,
	cfg ChatConfig,
	log zerolog.Logger,
) *ChatService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.Limits.MaxMessageLength <= 0 {
		cfg.Limits.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Limits.MaxSearchQueryLength <= 0 {
		cfg.Limits.MaxSearchQueryLength = DefaultMaxSearchQueryLength
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	return &ChatService{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "chat").Logger(),
	}
}

// chatTx groups the components bound to one transaction.
type chatTx struct {
	repos        Repos
	resolver     conversationResolver
	participants participantLifecycle
	messages     messageLog
	hooks        *afterCommit
}

func (s *ChatService) bind(repos Repos, hooks *afterCommit) chatTx {
	return chatTx{
		repos:        repos,
		resolver:     conversationResolver{conversations: repos.Conversations, log: s.log},
		participants: participantLifecycle{participants: repos.Participants},
		messages:     messageLog{messages: repos.Messages, limits: s.cfg.Limits},
		hooks:        hooks,
	}
}

// inTx runs fn in a transaction and fires the hooks it registered only after
// a successful commit.
func (s *ChatService) inTx(ctx context.Context, fn func(ctx context.Context, tx chatTx) error) error {
	hooks := &afterCommit{}
	err := s.store.InTx(ctx, func(ctx context.Context, repos Repos) error {
		return fn(ctx, s.bind(repos, hooks))
	})
	if err != nil {
		return err
	}
	hooks.Run(ctx, s.cfg.NotifyTimeout)
	return nil
}

// lockConversation is the first statement of every write on a conversation.
// Participant and message rows are only locked after it, so concurrent
// writers on one conversation never wait on each other in opposite orders.
func lockConversation(ctx context.Context, tx chatTx, conversationID int64) (*models.Conversation, error) {
	conversation, err := tx.repos.Conversations.LockByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	page models.Page,
) ([]models.ConversationSummary, int, error) {
	if err := validatePage(page); err != nil {
		return nil, 0, err
	}
	return s.store.Repos().Conversations.ListForUser(ctx, actorID, page)
}

// OpenConversation returns the conversation as actorID sees it. A missing
// conversation, one actorID is not part of, and one actorID removed all
// yield ErrNotFound.
func (s *ChatService) OpenConversation(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.ConversationView, error) {
	if conversationID <= 0 {
		return nil, ErrNotFound
	}

	repos := s.store.Repos()
	participant, err := participantLifecycle{participants: repos.Participants}.Visible(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotFound
	}

	view, err := repos.Conversations.GetViewForUser(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return view, nil
}

// StartConversation resolves the conversation between actorID and
// recipientID, restoring actorID's view if it was removed, and optionally
// sends body as the first message.
func (s *ChatService) StartConversation(
	ctx context.Context,
	actorID int64,
	recipientID int64,
	body *string,
) (*StartedConversation, error) {
	if recipientID <= 0 {
		return nil, invalid("recipient_id", "must be a positive integer")
	}
	if recipientID == actorID {
		return nil, ErrInvalidPeer
	}
	if body != nil {
		if _, err := s.cfg.Limits.normalizeBody(*body); err != nil {
			return nil, err
		}
	}

	if _, err := s.store.Repos().Users.GetProfile(ctx, recipientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var result StartedConversation
	err := s.inTx(ctx, func(ctx context.Context, tx chatTx) error {
		resolved, created, err := tx.resolver.Resolve(ctx, actorID, recipientID)
		if err != nil {
			return err
		}
		result.Created = created

		conversation, err := lockConversation(ctx, tx, resolved.ID)
		if err != nil {
			return err
		}

		if body != nil {
			message, err := s.appendMessage(ctx, tx, conversation, actorID, *body)
			if err != nil {
				return err
			}
			result.Message = message
		} else {
			requester, err := tx.participants.Find(ctx, conversation.ID, actorID)
			if err != nil {
				return err
			}
			if requester == nil {
				return fmt.Errorf("conversation %d has no participant row for user %d", conversation.ID, actorID)
			}
			if _, _, err := tx.participants.RestoreIfRemoved(ctx, requester); err != nil {
				return err
			}
		}

		view, err := tx.repos.Conversations.GetViewForUser(ctx, conversation.ID, actorID)
		if err != nil {
			return err
		}
		result.Conversation = view
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SendMessage appends body to the conversation. A missing conversation and
// one actorID is not part of both yield ErrNotFound. A removed sender view is
// restored.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	body string,
) (*models.ChatMessage, error) {
	if conversationID <= 0 {
		return nil, ErrNotFound
	}

	var message *models.ChatMessage
	err := s.inTx(ctx, func(ctx context.Context, tx chatTx) error {
		conversation, err := lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !conversation.Pair().Has(actorID) {
			return ErrNotFound
		}

		message, err = s.appendMessage(ctx, tx, conversation, actorID, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// appendMessage is the shared send path. It un-removes both views, stores the
// message, bumps the recipient's counter and queues the real-time events.
// The caller holds the conversation lock. Both views are restored before the
// insert so a restored interval always includes the message that restored it.
func (s *ChatService) appendMessage(
	ctx context.Context,
	tx chatTx,
	conversation *models.Conversation,
	senderID int64,
	body string,
) (*models.ChatMessage, error) {
	recipientID, ok := conversation.Pair().Other(senderID)
	if !ok {
		return nil, ErrNotFound
	}

	sender, err := tx.participants.Find(ctx, conversation.ID, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrNotFound
	}
	if _, restored, err := tx.participants.RestoreIfRemoved(ctx, sender); err != nil {
		return nil, err
	} else if restored {
		s.log.Debug().Int64("conversation_id", conversation.ID).Int64("user_id", senderID).Msg("sender view restored")
	}

	recipient, err := tx.participants.Find(ctx, conversation.ID, recipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, fmt.Errorf("conversation %d has no participant row for user %d", conversation.ID, recipientID)
	}
	recipient, restored, err := tx.participants.RestoreIfRemoved(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if restored {
		s.log.Debug().Int64("conversation_id", conversation.ID).Int64("user_id", recipientID).Msg("recipient view restored")
	}

	message, err := tx.messages.Append(ctx, conversation, senderID, body)
	if err != nil {
		return nil, err
	}

	if err := tx.repos.Conversations.TouchLastMessage(ctx, conversation.ID, message.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if conversation.LastMessageAt == nil || message.CreatedAt.After(*conversation.LastMessageAt) {
		conversation.LastMessageAt = lo.ToPtr(message.CreatedAt)
	}

	if err := tx.participants.IncrementUnread(ctx, recipient); err != nil {
		return nil, err
	}

	senderProfile, err := tx.repos.Users.GetProfile(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("load sender profile: %w", err)
	}

	sent := newMessageSentEvent(message, *senderProfile)
	updated := newConversationUpdatedEvent(conversation, message)
	members := conversation.Pair().Members()
	tx.hooks.Add(func(ctx context.Context) {
		metrics.MessagesSent.Inc()
		s.notifyMessageSent(ctx, recipientID, sent)
		s.notifyConversationUpdated(ctx, members, updated)
	})

	return message, nil
}

func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	page models.Page,
) ([]models.ChatMessage, int, error) {
	if conversationID <= 0 {
		return nil, 0, ErrNotFound
	}
	if err := validatePage(page); err != nil {
		return nil, 0, err
	}

	repos := s.store.Repos()
	participant, err := participantLifecycle{participants: repos.Participants}.Visible(ctx, conversationID, actorID)
	if err != nil {
		return nil, 0, err
	}
	if participant == nil {
		return nil, 0, ErrNotFound
	}

	return repos.Messages.ListByConversation(ctx, conversationID, page)
}

// MarkAsRead marks every message actorID received in the conversation as read
// and zeroes the unread counter in the same transaction.
func (s *ChatService) MarkAsRead(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.ReadReceipt, error) {
	if conversationID <= 0 {
		return nil, ErrNotFound
	}

	var receipt *models.ReadReceipt
	err := s.inTx(ctx, func(ctx context.Context, tx chatTx) error {
		if _, err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}

		participant, err := tx.participants.Visible(ctx, conversationID, actorID)
		if err != nil {
			return err
		}
		if participant == nil {
			return ErrNotFound
		}

		flipped, err := tx.messages.MarkRead(ctx, conversationID, actorID)
		if err != nil {
			return err
		}
		updated, err := tx.participants.MarkRead(ctx, participant)
		if err != nil {
			return err
		}

		if flipped != int64(participant.UnreadCount) {
			s.log.Debug().
				Int64("conversation_id", conversationID).
				Int64("user_id", actorID).
				Int("stored_unread", participant.UnreadCount).
				Int64("flipped", flipped).
				Msg("unread counter differed from messages marked read")
		}

		receipt = &models.ReadReceipt{
			ConversationID: conversationID,
			MessagesRead:   flipped,
			UnreadCount:    updated.UnreadCount,
			ReadAt:         lo.FromPtr(updated.LastReadAt),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// DeleteMessage hides a message the actor sent. Messages the actor cannot see
// yield ErrNotFound; visible messages sent by the other user yield
// ErrForbidden.
func (s *ChatService) DeleteMessage(ctx context.Context, actorID int64, messageID int64) error {
	if messageID <= 0 {
		return ErrNotFound
	}

	return s.inTx(ctx, func(ctx context.Context, tx chatTx) error {
		message, err := tx.messages.Lookup(ctx, messageID)
		if err != nil {
			return err
		}
		conversation, err := lockConversation(ctx, tx, message.ConversationID)
		if err != nil {
			return err
		}

		viewer, err := tx.participants.Visible(ctx, message.ConversationID, actorID)
		if err != nil {
			return err
		}
		if viewer == nil {
			return ErrNotFound
		}

		if err := tx.messages.Hide(ctx, message, actorID); err != nil {
			return err
		}

		latest, err := tx.messages.Latest(ctx, conversation.ID)
		if err != nil {
			return err
		}

		updated := newConversationUpdatedEvent(conversation, latest)
		members := conversation.Pair().Members()
		tx.hooks.Add(func(ctx context.Context) {
			s.notifyConversationUpdated(ctx, members, updated)
		})
		return nil
	})
}

// DeleteConversation removes the conversation from actorID's view only. It
// succeeds when the view is already removed.
func (s *ChatService) DeleteConversation(ctx context.Context, actorID int64, conversationID int64) error {
	if conversationID <= 0 {
		return ErrNotFound
	}

	return s.inTx(ctx, func(ctx context.Context, tx chatTx) error {
		if _, err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}

		participant, err := tx.participants.Find(ctx, conversationID, actorID)
		if err != nil {
			return err
		}
		if participant == nil {
			return ErrNotFound
		}
		return tx.participants.Remove(ctx, participant)
	})
}

func (s *ChatService) GetTotalUnreadCount(ctx context.Context, actorID int64) (int, error) {
	return s.store.Repos().Participants.TotalUnread(ctx, actorID)
}

func (s *ChatService) SearchMessages(
	ctx context.Context,
	actorID int64,
	query string,
	page models.Page,
) ([]models.ChatMessage, int, error) {
	metrics.SearchQueries.Inc()
	log := messageLog{messages: s.store.Repos().Messages, limits: s.cfg.Limits}
	return log.Search(ctx, actorID, query, page)
}

func (s *ChatService) notifyMessageSent(ctx context.Context, recipientID int64, event models.MessageSentEvent) {
	if err := s.notifier.MessageSent(ctx, recipientID, event); err != nil {
		metrics.EventFailures.WithLabelValues(models.EventMessageSent).Inc()
		s.log.Warn().
			Err(err).
			Int64("user_id", recipientID).
			Int64("message_id", event.ID).
			Msg("message.sent notification failed")
	}
}

func (s *ChatService) notifyConversationUpdated(ctx context.Context, userIDs []int64, event models.ConversationUpdatedEvent) {
	for _, userID := range userIDs {
		if err := s.notifier.ConversationUpdated(ctx, userID, event); err != nil {
			metrics.EventFailures.WithLabelValues(models.EventConversationUpdated).Inc()
			s.log.Warn().
				Err(err).
				Int64("user_id", userID).
				Int64("conversation_id", event.ID).
				Msg("conversation.updated notification failed")
		}
	}
}
