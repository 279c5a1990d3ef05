package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/metrics"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
	"github.com/rs/zerolog"
)

const maxResolveAttempts = 3

// conversationResolver maps an unordered pair of users to their single
// conversation, creating it on first contact.
type conversationResolver struct {
	conversations conversationStore
	log           zerolog.Logger
}

// Resolve returns the conversation for {userA, userB}. The bool reports
// whether this call created it. Losing the insert race to a concurrent
// caller is retried as a lookup and never reaches the caller.
func (r conversationResolver) Resolve(
	ctx context.Context,
	userA int64,
	userB int64,
) (*models.Conversation, bool, error) {
	pair, err := models.NewPair(userA, userB)
	if err != nil {
		return nil, false, ErrInvalidPeer
	}

	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		conversation, err := r.conversations.FindByPair(ctx, pair)
		if err == nil {
			return conversation, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("find conversation: %w", err)
		}

		conversation, err = r.conversations.CreateWithParticipants(ctx, pair)
		if err == nil {
			metrics.ConversationsCreated.Inc()
			return conversation, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("create conversation: %w", err)
		}

		metrics.ConversationCreateRaces.Inc()
		r.log.Debug().
			Int64("user_low_id", pair.Low).
			Int64("user_high_id", pair.High).
			Int("attempt", attempt).
			Msg("conversation insert lost race, retrying lookup")
	}

	return nil, false, errConversationRace
}
