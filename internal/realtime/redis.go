package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisChannelPrefix = "messaging:"

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func redisChannel(userID int64) string {
	return redisChannelPrefix + UserChannel(userID)
}

// RedisPublisher publishes envelopes on the user's private channel so every
// instance running a RedisRelay can deliver them.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID int64, payload []byte) error {
	return p.client.Publish(ctx, redisChannel(userID), payload).Err()
}

// RedisRelay forwards messages from every private user channel into the local
// publisher, normally the Hub.
type RedisRelay struct {
	client *redis.Client
	local  Publisher
	log    zerolog.Logger
}

func NewRedisRelay(client *redis.Client, local Publisher, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		local:  local,
		log:    log.With().Str("component", "redis_relay").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, redisChannelPrefix+userChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis relay subscribe: %w", err)
	}
	r.log.Info().Msg("relaying private channels")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, channel string, payload []byte) {
	userID, err := ParseUserChannel(strings.TrimPrefix(channel, redisChannelPrefix))
	if err != nil {
		r.log.Warn().Err(err).Msg("ignoring message")
		return
	}
	if err := r.local.Publish(ctx, userID, payload); err != nil {
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("local delivery failed")
	}
}
