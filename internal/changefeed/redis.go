package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Redis publishes events on a pub/sub channel so every API replica sees
// writes made through the others.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis builds a feed on the given channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "leveltwo:changes"
	}
	return &Redis{client: client, channel: channel}
}

// Publish encodes evt as JSON and PUBLISHes it.
func (f *Redis) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return f.client.Publish(ctx, f.channel, body).Err()
}

// Subscribe streams decoded events until ctx is done.
func (f *Redis) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := f.client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	out := make(chan Event)
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
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					log.Printf("changefeed: dropping malformed event: %v", err)
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
