package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/oaa-dev/service-system-sub003/internal/metrics"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultCron  = "*/15 * * * *"
	defaultLimit = 500

	retryDelay = 30 * time.Second
)

type DriftStore interface {
	FindDrift(ctx context.Context, limit int) ([]models.UnreadDrift, error)
	RepairDrift(ctx context.Context) (int64, error)
}

type Config struct {
	Cron   string
	Repair bool
	Limit  int
}

// Reconciler periodically compares stored unread counters with the number of
// unread counterpart messages in each participant's current interval.
type Reconciler struct {
	store DriftStore
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

type Result struct {
	Drifted  int
	Repaired int64
}

func New(store DriftStore, cfg Config, log zerolog.Logger) (*Reconciler, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid reconcile cron expression: %q", cfg.Cron)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	return &Reconciler{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "reconciler").Logger(),
		now:   time.Now,
	}, nil
}

func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	drifts, err := r.store.FindDrift(ctx, r.cfg.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("find unread drift: %w", err)
	}

	metrics.UnreadDriftParticipants.Set(float64(len(drifts)))
	result := Result{Drifted: len(drifts)}
	if len(drifts) == 0 {
		return result, nil
	}

	for _, drift := range drifts {
		r.log.Warn().
			Int64("conversation_id", drift.ConversationID).
			Int64("user_id", drift.UserID).
			Int("stored", drift.Stored).
			Int("actual", drift.Actual).
			Msg("unread counter drift")
	}

	if !r.cfg.Repair {
		return result, nil
	}

	repaired, err := r.store.RepairDrift(ctx)
	if err != nil {
		return result, fmt.Errorf("repair unread drift: %w", err)
	}
	result.Repaired = repaired
	metrics.UnreadDriftRepaired.Add(float64(repaired))
	metrics.UnreadDriftParticipants.Set(0)
	r.log.Info().Int64("repaired", repaired).Msg("unread counters repaired")
	return result, nil
}

// Run blocks until ctx is cancelled, running a check at every cron tick.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info().Str("cron", r.cfg.Cron).Bool("repair", r.cfg.Repair).Msg("reconciler started")
	for {
		wait, err := r.untilNextTick()
		if err != nil {
			r.log.Error().Err(err).Msg("next tick failed")
			wait = retryDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info().Msg("reconciler stopping")
			return
		case <-timer.C:
		}

		if err == nil {
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconcile run failed")
			}
		}
	}
}

func (r *Reconciler) untilNextTick() (time.Duration, error) {
	now := r.now().UTC()
	next, err := gronx.NextTickAfter(r.cfg.Cron, now, false)
	if err != nil {
		return 0, err
	}
	wait := next.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait, nil
}
