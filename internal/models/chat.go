package models

import (
	"errors"
	"time"
)

var ErrSamePeer = errors.New("conversation peers must be distinct users")

// Pair is the canonical (low, high) ordering of the two users of a conversation.
// The unordered pair {a, b} has exactly one Pair.
type Pair struct {
	Low  int64
	High int64
}

func NewPair(a, b int64) (Pair, error) {
	if a == b {
		return Pair{}, ErrSamePeer
	}
	if a < b {
		return Pair{Low: a, High: b}, nil
	}
	return Pair{Low: b, High: a}, nil
}

func (p Pair) Has(userID int64) bool {
	return userID == p.Low || userID == p.High
}

// Other returns the counterpart of userID. The second value is false when
// userID is not part of the pair.
func (p Pair) Other(userID int64) (int64, bool) {
	switch userID {
	case p.Low:
		return p.High, true
	case p.High:
		return p.Low, true
	default:
		return 0, false
	}
}

func (p Pair) Members() []int64 {
	return []int64{p.Low, p.High}
}

type Conversation struct {
	ID            int64      `json:"id"`
	UserLowID     int64      `json:"user_low_id"`
	UserHighID    int64      `json:"user_high_id"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *Conversation) Pair() Pair {
	return Pair{Low: c.UserLowID, High: c.UserHighID}
}

// ParticipantState is either Active or Removed(at). The zero value is Active.
type ParticipantState struct {
	removedAt *time.Time
}

func Active() ParticipantState {
	return ParticipantState{}
}

func Removed(at time.Time) ParticipantState {
	at = at.UTC()
	return ParticipantState{removedAt: &at}
}

// StateFromDeletedAt maps the persisted deleted_at column to a state.
func StateFromDeletedAt(deletedAt *time.Time) ParticipantState {
	if deletedAt == nil {
		return Active()
	}
	return Removed(*deletedAt)
}

func (s ParticipantState) IsRemoved() bool {
	return s.removedAt != nil
}

func (s ParticipantState) RemovedAt() *time.Time {
	return s.removedAt
}

func (s ParticipantState) String() string {
	if s.IsRemoved() {
		return "removed"
	}
	return "active"
}

type Participant struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation_id"`
	UserID         int64            `json:"user_id"`
	UnreadCount    int              `json:"unread_count"`
	LastReadAt     *time.Time       `json:"last_read_at"`
	State          ParticipantState `json:"-"`
	RestoredAt     *time.Time       `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type ChatMessage struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Body           string     `json:"body"`
	ReadAt         *time.Time `json:"read_at"`
	DeletedAt      *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation
	OtherUser     PublicProfile `json:"other_user"`
	LatestMessage *ChatMessage  `json:"latest_message"`
	UnreadCount   int           `json:"unread_count"`
}

// ConversationView is what a participant sees when opening a conversation.
type ConversationView struct {
	ConversationSummary
	LastReadAt *time.Time `json:"last_read_at"`
}

type ReadReceipt struct {
	ConversationID int64     `json:"conversation_id"`
	MessagesRead   int64     `json:"messages_read"`
	UnreadCount    int       `json:"unread_count"`
	ReadAt         time.Time `json:"read_at"`
}

// UnreadDrift is a participant whose stored counter disagrees with the
// number of unread counterpart messages.
type UnreadDrift struct {
	ParticipantID  int64 `json:"participant_id"`
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	Stored         int   `json:"stored"`
	Actual         int   `json:"actual"`
}
