package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/oaa-dev/service-system-sub003/internal/metrics"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oklog/ulid/v2"
)

const userChannelPrefix = "private-user."

// Envelope is what a websocket client receives. ID is unique per emitted event
// so clients can drop duplicates from retried deliveries.
type Envelope struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func UserChannel(userID int64) string {
	return userChannelPrefix + strconv.FormatInt(userID, 10)
}

// ParseUserChannel is the inverse of UserChannel.
func ParseUserChannel(channel string) (int64, error) {
	raw, ok := strings.CutPrefix(channel, userChannelPrefix)
	if !ok {
		return 0, fmt.Errorf("channel %q is not a user channel", channel)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("channel %q has an invalid user id", channel)
	}
	return userID, nil
}

func NewEnvelope(event string, userID int64, data any) (Envelope, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{
		ID:      ulid.Make().String(),
		Event:   event,
		Channel: UserChannel(userID),
		Data:    encoded,
	}, nil
}

// Notifier turns chat events into envelopes on the recipient's private
// channel and hands them to a Publisher.
type Notifier struct {
	publisher Publisher
	name      string
}

// NewNotifier wraps publisher. name labels the publish metrics.
func NewNotifier(publisher Publisher, name string) *Notifier {
	return &Notifier{publisher: publisher, name: name}
}

func (n *Notifier) MessageSent(ctx context.Context, recipientID int64, event models.MessageSentEvent) error {
	return n.emit(ctx, models.EventMessageSent, recipientID, event)
}

func (n *Notifier) ConversationUpdated(ctx context.Context, userID int64, event models.ConversationUpdatedEvent) error {
	return n.emit(ctx, models.EventConversationUpdated, userID, event)
}

func (n *Notifier) emit(ctx context.Context, event string, userID int64, data any) error {
	envelope, err := NewEnvelope(event, userID, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := n.publisher.Publish(ctx, userID, payload); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, envelope.Channel, err)
	}
	metrics.EventsPublished.WithLabelValues(event, n.name).Inc()
	return nil
}
