package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	task *asynq.Task
	opts []asynq.Option
	err  error
}

func (e *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.task = task
	e.opts = opts
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type stubDownstream struct {
	userID  int64
	payload []byte
	err     error
}

func (d *stubDownstream) Publish(_ context.Context, userID int64, payload []byte) error {
	d.userID = userID
	d.payload = payload
	return d.err
}

func optionValue(opts []asynq.Option, kind asynq.OptionType) any {
	for _, opt := range opts {
		if opt.Type() == kind {
			return opt.Value()
		}
	}
	return nil
}

func TestDeliveryPublisherEnqueuesTask(t *testing.T) {
	client := &stubEnqueuer{}
	publisher := NewDeliveryPublisher(client, "", 3)

	require.NoError(t, publisher.Publish(context.Background(), 12, []byte(`{"id":"01J","event":"message.sent"}`)))
	require.NotNil(t, client.task)
	assert.Equal(t, TaskRealtimeDeliver, client.task.Type())

	var payload deliveryPayload
	require.NoError(t, json.Unmarshal(client.task.Payload(), &payload))
	assert.Equal(t, int64(12), payload.UserID)
	assert.JSONEq(t, `{"id":"01J","event":"message.sent"}`, string(payload.Envelope))

	assert.Equal(t, DefaultQueue, optionValue(client.opts, asynq.QueueOpt))
	assert.Equal(t, 3, optionValue(client.opts, asynq.MaxRetryOpt))
}

func TestDeliveryPublisherWrapsEnqueueError(t *testing.T) {
	client := &stubEnqueuer{err: errors.New("redis unavailable")}
	publisher := NewDeliveryPublisher(client, "realtime", 1)

	err := publisher.Publish(context.Background(), 12, []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)
}

func TestDeliveryWorkerPublishesDownstream(t *testing.T) {
	downstream := &stubDownstream{}
	worker := NewDeliveryWorker(downstream, zerolog.Nop())

	task, err := NewDeliveryTask(4, []byte(`{"event":"conversation.updated"}`))
	require.NoError(t, err)

	require.NoError(t, worker.ProcessTask(context.Background(), task))
	assert.Equal(t, int64(4), downstream.userID)
	assert.JSONEq(t, `{"event":"conversation.updated"}`, string(downstream.payload))
}

func TestDeliveryWorkerSkipsRetryOnBadPayload(t *testing.T) {
	worker := NewDeliveryWorker(&stubDownstream{}, zerolog.Nop())

	err := worker.ProcessTask(context.Background(), asynq.NewTask(TaskRealtimeDeliver, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = worker.ProcessTask(context.Background(), asynq.NewTask(TaskRealtimeDeliver, []byte(`{"user_id":0,"envelope":{}}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDeliveryWorkerRetriesDownstreamFailure(t *testing.T) {
	downstream := &stubDownstream{err: errors.New("publish failed")}
	worker := NewDeliveryWorker(downstream, zerolog.Nop())

	task, err := NewDeliveryTask(4, []byte(`{}`))
	require.NoError(t, err)

	err = worker.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, downstream.err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
