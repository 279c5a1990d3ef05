package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, body, read_at, deleted_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var message models.ChatMessage
	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Body,
		&message.ReadAt,
		&message.DeletedAt,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func collectMessages(rows pgx.Rows) ([]models.ChatMessage, error) {
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// Create inserts the message only when senderID belongs to the
// conversation. A non-member sender yields pgx.ErrNoRows. created_at is the
// insert time, not the transaction start.
func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	body string,
) (*models.ChatMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body, created_at, updated_at)
		SELECT c.id, $2, $3, clock_timestamp(), clock_timestamp()
		FROM conversations c
		WHERE c.id = $1
		  AND $2 IN (c.user_low_id, c.user_high_id)
		RETURNING `+messageColumns,
		conversationID, senderID, body,
	))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1
	`, messageID))
}

func (r *MessageRepository) Latest(ctx context.Context, conversationID int64) (*models.ChatMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID))
}

func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	page models.Page,
) ([]models.ChatMessage, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND deleted_at IS NULL
	`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, conversationID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MarkConversationRead stamps read_at on every unread message readerID
// received in the conversation and reports how many were flipped.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read_at = NOW(),
		    updated_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND read_at IS NULL
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) SearchForUser(
	ctx context.Context,
	userID int64,
	query string,
	page models.Page,
) ([]models.ChatMessage, int, error) {
	pattern := "%" + escapeLike(query) + "%"

	const visible = `
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id
		 AND p.user_id = $1
		 AND p.deleted_at IS NULL
		WHERE m.deleted_at IS NULL
		  AND m.body ILIKE $2 ESCAPE '\'
	`

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) `+visible, userID, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.read_at, m.deleted_at, m.created_at, m.updated_at
		`+visible+`
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3 OFFSET $4
	`, userID, pattern, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// SoftDelete hides the message when senderID is its author. It reports
// whether a row changed.
func (r *MessageRepository) SoftDelete(ctx context.Context, messageID int64, senderID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET deleted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		  AND sender_id = $2
		  AND deleted_at IS NULL
	`, messageID, senderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
