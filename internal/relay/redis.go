package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/wiresync/internal/proto"
)

// DefaultPrefix namespaces relay channels.
const DefaultPrefix = "wiresync:room:"

// Redis publishes room events as JSON frames on one channel per room.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Channel returns the channel name for a room.
func Channel(prefix, roomID string) string {
	return prefix + roomID
}

// Publish encodes the event as an outbound frame and publishes it.
func (r *Redis) Publish(ctx context.Context, roomID, event string, data any) error {
	payload, err := json.Marshal(proto.Outbound{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(r.prefix, roomID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe streams the frames published for roomID until ctx is done.
// Frames that fail to decode are skipped.
func (r *Redis) Subscribe(ctx context.Context, roomID string) (<-chan proto.Inbound, error) {
	sub := r.client.Subscribe(ctx, Channel(r.prefix, roomID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan proto.Inbound)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var in proto.Inbound
				if err := json.Unmarshal([]byte(msg.Payload), &in); err != nil {
					continue
				}
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
