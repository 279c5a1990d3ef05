package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/models"
)

const (
	DefaultMaxMessageLength     = 5000
	DefaultMaxSearchQueryLength = 100
	MaxPageLimit                = 100
)

type Limits struct {
	MaxMessageLength     int
	MaxSearchQueryLength int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageLength:     DefaultMaxMessageLength,
		MaxSearchQueryLength: DefaultMaxSearchQueryLength,
	}
}

func (l Limits) normalizeBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", invalid("body", "must not be empty")
	}
	if !utf8.ValidString(trimmed) {
		return "", invalid("body", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(trimmed) > l.MaxMessageLength {
		return "", invalid("body", fmt.Sprintf("must be at most %d characters", l.MaxMessageLength))
	}
	return trimmed, nil
}

func (l Limits) normalizeQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", invalid("q", "must not be empty")
	}
	if !utf8.ValidString(trimmed) {
		return "", invalid("q", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(trimmed) > l.MaxSearchQueryLength {
		return "", invalid("q", fmt.Sprintf("must be at most %d characters", l.MaxSearchQueryLength))
	}
	return trimmed, nil
}

func validatePage(page models.Page) error {
	if page.Number < 1 {
		return invalid("page", "must be at least 1")
	}
	if page.Limit < 1 || page.Limit > MaxPageLimit {
		return invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxPageLimit))
	}
	return nil
}

// messageLog appends, reads, and hides messages within one conversation.
type messageLog struct {
	messages messageStore
	limits   Limits
}

func (m messageLog) Append(
	ctx context.Context,
	conversation *models.Conversation,
	senderID int64,
	body string,
) (*models.ChatMessage, error) {
	if !conversation.Pair().Has(senderID) {
		return nil, ErrForbidden
	}

	normalized, err := m.limits.normalizeBody(body)
	if err != nil {
		return nil, err
	}

	message, err := m.messages.Create(ctx, conversation.ID, senderID, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return message, nil
}

// Latest returns the newest visible message or nil for an empty conversation.
func (m messageLog) Latest(ctx context.Context, conversationID int64) (*models.ChatMessage, error) {
	message, err := m.messages.Latest(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return message, nil
}

// Lookup returns a message that has not been deleted, or ErrNotFound.
func (m messageLog) Lookup(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	message, err := m.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if message.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return message, nil
}

func (m messageLog) MarkRead(ctx context.Context, conversationID int64, readerID int64) (int64, error) {
	return m.messages.MarkConversationRead(ctx, conversationID, readerID)
}

// Hide soft-deletes message on behalf of requesterID, who must be its sender.
func (m messageLog) Hide(ctx context.Context, message *models.ChatMessage, requesterID int64) error {
	if message.SenderID != requesterID {
		return ErrForbidden
	}
	changed, err := m.messages.SoftDelete(ctx, message.ID, requesterID)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNotFound
	}
	return nil
}

func (m messageLog) Search(
	ctx context.Context,
	userID int64,
	query string,
	page models.Page,
) ([]models.ChatMessage, int, error) {
	normalized, err := m.limits.normalizeQuery(query)
	if err != nil {
		return nil, 0, err
	}
	if err := validatePage(page); err != nil {
		return nil, 0, err
	}
	return m.messages.SearchForUser(ctx, userID, normalized, page)
}
