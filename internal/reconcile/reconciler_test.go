package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDriftStore struct {
	drifts      []models.UnreadDrift
	findErr     error
	repairErr   error
	repairCalls int
	lastLimit   int
}

func (s *stubDriftStore) FindDrift(_ context.Context, limit int) ([]models.UnreadDrift, error) {
	s.lastLimit = limit
	return s.drifts, s.findErr
}

func (s *stubDriftStore) RepairDrift(_ context.Context) (int64, error) {
	s.repairCalls++
	if s.repairErr != nil {
		return 0, s.repairErr
	}
	return int64(len(s.drifts)), nil
}

func TestNewRejectsInvalidCron(t *testing.T) {
	_, err := New(&stubDriftStore{}, Config{Cron: "every minute"}, zerolog.Nop())
	require.Error(t, err)

	r, err := New(&stubDriftStore{}, Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultCron, r.cfg.Cron)
	assert.Equal(t, defaultLimit, r.cfg.Limit)
}

func TestRunOnceReportsWithoutRepair(t *testing.T) {
	store := &stubDriftStore{drifts: []models.UnreadDrift{
		{ParticipantID: 1, ConversationID: 3, UserID: 7, Stored: 4, Actual: 2},
	}}
	r, err := New(store, Config{Limit: 10}, zerolog.Nop())
	require.NoError(t, err)

	result, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Drifted)
	assert.Zero(t, result.Repaired)
	assert.Zero(t, store.repairCalls)
	assert.Equal(t, 10, store.lastLimit)
}

func TestRunOnceRepairsWhenEnabled(t *testing.T) {
	store := &stubDriftStore{drifts: []models.UnreadDrift{
		{ParticipantID: 1, ConversationID: 3, UserID: 7, Stored: 4, Actual: 2},
		{ParticipantID: 2, ConversationID: 3, UserID: 8, Stored: 0, Actual: 1},
	}}
	r, err := New(store, Config{Repair: true}, zerolog.Nop())
	require.NoError(t, err)

	result, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Drifted)
	assert.Equal(t, int64(2), result.Repaired)
	assert.Equal(t, 1, store.repairCalls)
}

func TestRunOnceSkipsRepairWithoutDrift(t *testing.T) {
	store := &stubDriftStore{}
	r, err := New(store, Config{Repair: true}, zerolog.Nop())
	require.NoError(t, err)

	result, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Drifted)
	assert.Zero(t, store.repairCalls)
}

func TestRunOnceWrapsStoreErrors(t *testing.T) {
	findErr := errors.New("db down")
	r, err := New(&stubDriftStore{findErr: findErr}, Config{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	assert.ErrorIs(t, err, findErr)

	repairErr := errors.New("lock timeout")
	store := &stubDriftStore{
		drifts:    []models.UnreadDrift{{ParticipantID: 1, Stored: 1}},
		repairErr: repairErr,
	}
	r, err = New(store, Config{Repair: true}, zerolog.Nop())
	require.NoError(t, err)

	result, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, repairErr)
	assert.Equal(t, 1, result.Drifted)
}

func TestUntilNextTickFollowsCron(t *testing.T) {
	r, err := New(&stubDriftStore{}, Config{Cron: "0 * * * *"}, zerolog.Nop())
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2030, 1, 1, 10, 45, 0, 0, time.UTC) }

	wait, err := r.untilNextTick()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, wait)
}

func TestRunStopsOnCancel(t *testing.T) {
	r, err := New(&stubDriftStore{}, Config{Cron: "0 0 1 1 *"}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
