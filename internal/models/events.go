package models

import "time"

const (
	EventMessageSent         = "message.sent"
	EventConversationUpdated = "conversation.updated"
)

type MessageSentEvent struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       int64         `json:"sender_id"`
	Sender         PublicProfile `json:"sender"`
	Body           string        `json:"body"`
	ReadAt         *time.Time    `json:"read_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

type LatestMessage struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	SenderID  int64     `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationUpdatedEvent may arrive more than once or out of order; clients
// merge by (ID, LastMessageAt).
type ConversationUpdatedEvent struct {
	ID            int64          `json:"id"`
	LastMessageAt *time.Time     `json:"last_message_at"`
	LatestMessage *LatestMessage `json:"latest_message"`
}
