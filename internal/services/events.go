package services

import (
	"context"

	"github.com/oaa-dev/service-system-sub003/internal/models"
)

// Notifier delivers real-time events to a single user. Implementations are
// called after the originating transaction has committed.
type Notifier interface {
	MessageSent(ctx context.Context, recipientID int64, event models.MessageSentEvent) error
	ConversationUpdated(ctx context.Context, userID int64, event models.ConversationUpdatedEvent) error
}

type NopNotifier struct{}

func (NopNotifier) MessageSent(context.Context, int64, models.MessageSentEvent) error {
	return nil
}

func (NopNotifier) ConversationUpdated(context.Context, int64, models.ConversationUpdatedEvent) error {
	return nil
}

func newMessageSentEvent(message *models.ChatMessage, sender models.PublicProfile) models.MessageSentEvent {
	return models.MessageSentEvent{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Sender:         sender,
		Body:           message.Body,
		ReadAt:         message.ReadAt,
		CreatedAt:      message.CreatedAt,
	}
}

func newConversationUpdatedEvent(conversation *models.Conversation, latest *models.ChatMessage) models.ConversationUpdatedEvent {
	event := models.ConversationUpdatedEvent{
		ID:            conversation.ID,
		LastMessageAt: conversation.LastMessageAt,
	}
	if latest != nil {
		event.LatestMessage = &models.LatestMessage{
			ID:        latest.ID,
			Body:      latest.Body,
			SenderID:  latest.SenderID,
			CreatedAt: latest.CreatedAt,
		}
	}
	return event
}
