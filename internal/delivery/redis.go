package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"notifyhub/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelay fans room events through Redis pub/sub so every process
// attached to the same Redis re-delivers them to its local hub.
type RedisRelay struct {
	client *redis.Client
	prefix string
	logger *zerolog.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, logger *zerolog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = "notifyhub:room:"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedisRelay{client: client, prefix: prefix, logger: logger}
}

func (r *RedisRelay) channel(address string) string {
	return r.prefix + address
}

// Send publishes the event on the room channel.
func (r *RedisRelay) Send(ctx context.Context, address string, event Event) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if event.SentAt.IsZero() {
		event.SentAt = time.Now()
	}
	if event.Room == "" {
		event.Room = address
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(address), data).Err(); err != nil {
		metrics.IncDelivery(metrics.DeliveryRelayFailed)
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	metrics.IncDelivery(metrics.DeliveryRelayed)
	return nil
}

// Run re-delivers relayed events into hub until ctx is done.
// ready, when non-nil, is closed once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to redis rooms: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info().Str("pattern", r.prefix+"*").Msg("redis relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			address := strings.TrimPrefix(msg.Channel, r.prefix)
			var envelope struct {
				Name string `json:"event"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("decode relayed event")
				continue
			}
			hub.deliver(address, envelope.Name, []byte(msg.Payload))
		}
	}
}
