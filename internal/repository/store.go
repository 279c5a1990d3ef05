package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicate is returned when an insert lost a uniqueness race.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner is implemented by *pgxpool.Pool and pgx.Tx. On a pgx.Tx, Begin
// opens a savepoint.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repositories struct {
	Users         *UserRepository
	Conversations *ConversationRepository
	Participants  *ParticipantRepository
	Messages      *MessageRepository
}

func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Users:         NewUserRepository(db),
		Conversations: NewConversationRepository(db),
		Participants:  NewParticipantRepository(db),
		Messages:      NewMessageRepository(db),
	}
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Repositories() Repositories {
	return NewRepositories(s.pool)
}

// InTx runs fn with repositories bound to a single transaction. The
// transaction commits only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
