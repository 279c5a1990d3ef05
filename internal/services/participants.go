package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/models"
)

// participantLifecycle owns the Active/Removed transitions of a user's view
// of a conversation and its unread counter.
type participantLifecycle struct {
	participants participantStore
}

// Find returns the participant row or nil when userID is not a member.
func (l participantLifecycle) Find(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error) {
	participant, err := l.participants.Get(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return participant, nil
}

// Visible returns the participant only while its view is active.
func (l participantLifecycle) Visible(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error) {
	participant, err := l.Find(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil || participant.State.IsRemoved() {
		return nil, nil
	}
	return participant, nil
}

// RestoreIfRemoved reactivates a removed view. The counter restarts at zero
// so messages from before the restore never count as unread.
func (l participantLifecycle) RestoreIfRemoved(ctx context.Context, participant *models.Participant) (*models.Participant, bool, error) {
	if !participant.State.IsRemoved() {
		return participant, false, nil
	}
	restored, err := l.participants.Restore(ctx, participant.ConversationID, participant.UserID)
	if err != nil {
		return nil, false, err
	}
	return restored, true, nil
}

func (l participantLifecycle) IncrementUnread(ctx context.Context, participant *models.Participant) error {
	unread, err := l.participants.IncrementUnread(ctx, participant.ConversationID, participant.UserID)
	if err != nil {
		return err
	}
	participant.UnreadCount = unread
	return nil
}

func (l participantLifecycle) MarkRead(ctx context.Context, participant *models.Participant) (*models.Participant, error) {
	return l.participants.MarkRead(ctx, participant.ConversationID, participant.UserID)
}

// Remove hides the conversation for this participant only. Removing an
// already removed view keeps the original timestamp.
func (l participantLifecycle) Remove(ctx context.Context, participant *models.Participant) error {
	if participant.State.IsRemoved() {
		return nil
	}
	return l.participants.SoftDelete(ctx, participant.ConversationID, participant.UserID)
}
