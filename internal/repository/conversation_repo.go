package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, user_low_id, user_high_id, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.UserLowID,
		&conversation.UserHighID,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *ConversationRepository) FindByPair(ctx context.Context, pair models.Pair) (*models.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_low_id = $1 AND user_high_id = $2
	`, pair.Low, pair.High))
}

// LockByID reads the conversation and holds its row lock until the
// transaction ends. Writes that touch participant or message rows of a
// conversation take this lock first, so they queue in one order.
func (r *ConversationRepository) LockByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1
		FOR UPDATE
	`, conversationID))
}

// CreateWithParticipants inserts the conversation for pair and both
// participant rows. When another transaction already owns the pair it
// returns ErrDuplicate and leaves the surrounding transaction usable.
func (r *ConversationRepository) CreateWithParticipants(
	ctx context.Context,
	pair models.Pair,
) (*models.Conversation, error) {
	db := r.db
	var savepoint pgx.Tx
	if beginner, ok := r.db.(txBeginner); ok {
		sp, err := beginner.Begin(ctx)
		if err != nil {
			return nil, err
		}
		savepoint = sp
		db = sp
		defer func() {
			_ = savepoint.Rollback(ctx)
		}()
	}

	conversation, err := scanConversation(db.QueryRow(ctx, `
		INSERT INTO conversations (user_low_id, user_high_id)
		VALUES ($1, $2)
		ON CONFLICT (user_low_id, user_high_id) DO NOTHING
		RETURNING `+conversationColumns,
		pair.Low, pair.High,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	if err := NewParticipantRepository(db).CreateForPair(ctx, conversation.ID, pair); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	if savepoint != nil {
		if err := savepoint.Commit(ctx); err != nil {
			return nil, err
		}
	}
	return conversation, nil
}

// TouchLastMessage advances last_message_at; it never moves backwards.
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, conversationID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2),
		    updated_at = NOW()
		WHERE id = $1
	`, conversationID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const summarySelect = `
	SELECT
		c.id,
		c.user_low_id,
		c.user_high_id,
		c.last_message_at,
		c.created_at,
		c.updated_at,
		p.unread_count,
		p.last_read_at,
		u.id,
		u.name,
		u.avatar_url,
		lm.id,
		lm.conversation_id,
		lm.sender_id,
		lm.body,
		lm.read_at,
		lm.created_at,
		lm.updated_at
	FROM conversation_participants p
	JOIN conversations c ON c.id = p.conversation_id
	JOIN users u ON u.id = CASE WHEN c.user_low_id = p.user_id THEN c.user_high_id ELSE c.user_low_id END
	LEFT JOIN LATERAL (
		SELECT id, conversation_id, sender_id, body, read_at, created_at, updated_at
		FROM messages
		WHERE conversation_id = c.id
		  AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	) lm ON TRUE
`

func scanView(row pgx.Row) (*models.ConversationView, error) {
	var (
		view                  models.ConversationView
		otherAvatar           *string
		messageID             sql.NullInt64
		messageConversationID sql.NullInt64
		messageSenderID       sql.NullInt64
		messageBody           sql.NullString
		messageReadAt         sql.NullTime
		messageCreatedAt      sql.NullTime
		messageUpdatedAt      sql.NullTime
	)

	if err := row.Scan(
		&view.ID,
		&view.UserLowID,
		&view.UserHighID,
		&view.LastMessageAt,
		&view.CreatedAt,
		&view.UpdatedAt,
		&view.UnreadCount,
		&view.LastReadAt,
		&view.OtherUser.ID,
		&view.OtherUser.Name,
		&otherAvatar,
		&messageID,
		&messageConversationID,
		&messageSenderID,
		&messageBody,
		&messageReadAt,
		&messageCreatedAt,
		&messageUpdatedAt,
	); err != nil {
		return nil, err
	}

	view.OtherUser = models.NewPublicProfile(view.OtherUser.ID, view.OtherUser.Name, otherAvatar)
	if messageID.Valid {
		message := &models.ChatMessage{
			ID:             messageID.Int64,
			ConversationID: messageConversationID.Int64,
			SenderID:       messageSenderID.Int64,
			Body:           messageBody.String,
			CreatedAt:      messageCreatedAt.Time,
			UpdatedAt:      messageUpdatedAt.Time,
		}
		if messageReadAt.Valid {
			readAt := messageReadAt.Time
			message.ReadAt = &readAt
		}
		view.LatestMessage = message
	}

	return &view, nil
}

// GetViewForUser returns the conversation as seen by userID, including
// removed views. Callers decide whether a removed view is visible.
func (r *ConversationRepository) GetViewForUser(
	ctx context.Context,
	conversationID int64,
	userID int64,
) (*models.ConversationView, error) {
	return scanView(r.db.QueryRow(ctx, summarySelect+`
		WHERE p.conversation_id = $1 AND p.user_id = $2
	`, conversationID, userID))
}

func (r *ConversationRepository) ListForUser(
	ctx context.Context,
	userID int64,
	page models.Page,
) ([]models.ConversationSummary, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM conversation_participants
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, summarySelect+`
		WHERE p.user_id = $1 AND p.deleted_at IS NULL
		ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, view.ConversationSummary)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return summaries, total, nil
}
