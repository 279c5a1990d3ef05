package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/models"
)

type ParticipantRepository struct {
	db DBTX
}

func NewParticipantRepository(db DBTX) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

const participantColumns = `id, conversation_id, user_id, unread_count, last_read_at, restored_at, deleted_at, created_at, updated_at`

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var (
		participant models.Participant
		deletedAt   *time.Time
	)
	err := row.Scan(
		&participant.ID,
		&participant.ConversationID,
		&participant.UserID,
		&participant.UnreadCount,
		&participant.LastReadAt,
		&participant.RestoredAt,
		&deletedAt,
		&participant.CreatedAt,
		&participant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	participant.State = models.StateFromDeletedAt(deletedAt)
	return &participant, nil
}

func (r *ParticipantRepository) CreateForPair(ctx context.Context, conversationID int64, pair models.Pair) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)
	`, conversationID, pair.Low, pair.High)
	return err
}

func (r *ParticipantRepository) Get(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error) {
	return scanParticipant(r.db.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID))
}

// Restore moves a removed participant back to active and starts a new unread
// interval. Active rows are returned unchanged. restored_at is the wall
// clock, not the transaction start, to stay comparable with messages.created_at.
func (r *ParticipantRepository) Restore(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error) {
	return scanParticipant(r.db.QueryRow(ctx, `
		UPDATE conversation_participants
		SET deleted_at = NULL,
		    restored_at = CASE WHEN deleted_at IS NULL THEN restored_at ELSE clock_timestamp() END,
		    unread_count = CASE WHEN deleted_at IS NULL THEN unread_count ELSE 0 END,
		    updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING `+participantColumns,
		conversationID, userID,
	))
}

func (r *ParticipantRepository) IncrementUnread(ctx context.Context, conversationID int64, userID int64) (int, error) {
	var unread int
	err := r.db.QueryRow(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1,
		    updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING unread_count
	`, conversationID, userID).Scan(&unread)
	return unread, err
}

func (r *ParticipantRepository) MarkRead(ctx context.Context, conversationID int64, userID int64) (*models.Participant, error) {
	return scanParticipant(r.db.QueryRow(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0,
		    last_read_at = NOW(),
		    updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING `+participantColumns,
		conversationID, userID,
	))
}

func (r *ParticipantRepository) SoftDelete(ctx context.Context, conversationID int64, userID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET deleted_at = COALESCE(deleted_at, NOW()),
		    updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ParticipantRepository) TotalUnread(ctx context.Context, userID int64) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(unread_count), 0)
		FROM conversation_participants
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID).Scan(&total)
	return total, err
}

const actualUnreadSubquery = `
	SELECT COUNT(*)
	FROM messages m
	WHERE m.conversation_id = p.conversation_id
	  AND m.sender_id <> p.user_id
	  AND m.read_at IS NULL
	  AND m.created_at >= COALESCE(p.restored_at, '-infinity'::timestamptz)
`

// FindDrift lists participants whose unread_count disagrees with the number
// of unread counterpart messages in their current interval.
func (r *ParticipantRepository) FindDrift(ctx context.Context, limit int) ([]models.UnreadDrift, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, conversation_id, user_id, unread_count, actual
		FROM (
			SELECT p.id, p.conversation_id, p.user_id, p.unread_count, (`+actualUnreadSubquery+`) AS actual
			FROM conversation_participants p
		) counted
		WHERE unread_count <> actual
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drifts := make([]models.UnreadDrift, 0)
	for rows.Next() {
		var drift models.UnreadDrift
		if err := rows.Scan(
			&drift.ParticipantID,
			&drift.ConversationID,
			&drift.UserID,
			&drift.Stored,
			&drift.Actual,
		); err != nil {
			return nil, err
		}
		drifts = append(drifts, drift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drifts, nil
}

func (r *ParticipantRepository) RepairDrift(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_participants p
		SET unread_count = (`+actualUnreadSubquery+`),
		    updated_at = NOW()
		WHERE p.unread_count <> (`+actualUnreadSubquery+`)
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
