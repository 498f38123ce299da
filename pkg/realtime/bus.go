// Package realtime is the pub/sub channel between processes: the broadcaster
// publishes event payloads here and dashboard connections subscribe. Delivery
// is best-effort; the persisted event row is the durability guarantee.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auraflow/auraflow/pkg/model"
)

const (
	ChannelWorkflowEvents = "af:events:workflow"

	publishTimeout = 2 * time.Second
)

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

// Publish sends a payload over the realtime channel. Bounded by its own
// timeout so a stalled broker cannot hold up the business operation.
func (b *Bus) Publish(ctx context.Context, payload *model.EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return b.client.Publish(ctx, ChannelWorkflowEvents, data).Err()
}

// Subscribe returns a channel of decoded payloads until ctx is done.
// Undecodable messages are dropped.
func (b *Bus) Subscribe(ctx context.Context) <-chan *model.EventPayload {
	sub := b.client.Subscribe(ctx, ChannelWorkflowEvents)
	ch := make(chan *model.EventPayload, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var payload model.EventPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				continue
			}
			ch <- &payload
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
