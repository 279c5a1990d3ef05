package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oaa-dev/service-system-sub003/internal/realtime"
	"github.com/rs/zerolog"
)

const (
	TaskRealtimeDeliver = "realtime:deliver"

	DefaultQueue    = "realtime"
	DefaultMaxRetry = 5

	deliveryTimeout = 30 * time.Second
)

type deliveryPayload struct {
	UserID   int64           `json:"user_id"`
	Envelope json.RawMessage `json:"envelope"`
}

func NewDeliveryTask(userID int64, envelope []byte) (*asynq.Task, error) {
	payload, err := json.Marshal(deliveryPayload{UserID: userID, Envelope: envelope})
	if err != nil {
		return nil, fmt.Errorf("encode delivery task: %w", err)
	}
	return asynq.NewTask(TaskRealtimeDeliver, payload), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DeliveryPublisher hands envelopes to the asynq queue. The worker retries
// delivery, so a publish here only fails when Redis rejects the enqueue.
type DeliveryPublisher struct {
	client   enqueuer
	queue    string
	maxRetry int
}

func NewDeliveryPublisher(client enqueuer, queue string, maxRetry int) *DeliveryPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	if maxRetry < 0 {
		maxRetry = DefaultMaxRetry
	}
	return &DeliveryPublisher{client: client, queue: queue, maxRetry: maxRetry}
}

func (p *DeliveryPublisher) Publish(ctx context.Context, userID int64, envelope []byte) error {
	task, err := NewDeliveryTask(userID, envelope)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxRetry),
		asynq.Timeout(deliveryTimeout),
	); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskRealtimeDeliver, err)
	}
	return nil
}

var _ realtime.Publisher = (*DeliveryPublisher)(nil)

// DeliveryWorker processes realtime:deliver tasks by publishing the envelope
// downstream, normally to Redis or the local hub.
type DeliveryWorker struct {
	downstream realtime.Publisher
	log        zerolog.Logger
}

func NewDeliveryWorker(downstream realtime.Publisher, log zerolog.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		downstream: downstream,
		log:        log.With().Str("component", "delivery_worker").Logger(),
	}
}

func (w *DeliveryWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload deliveryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode delivery task: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UserID <= 0 || len(payload.Envelope) == 0 {
		return fmt.Errorf("delivery task missing user or envelope: %w", asynq.SkipRetry)
	}

	if err := w.downstream.Publish(ctx, payload.UserID, payload.Envelope); err != nil {
		return fmt.Errorf("deliver to user %d: %w", payload.UserID, err)
	}
	w.log.Debug().Int64("user_id", payload.UserID).Msg("delivered")
	return nil
}
