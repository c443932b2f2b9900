// Package bus is a minimal pub/sub used to hand file metadata updates
// from the ingestion worker to the index worker. It works fully
// in-process; when a Redis client is attached the same messages cross
// the process boundary on the same channel name, unchanged.
package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChannelFileMetadataUpdates carries Message payloads from publishers
// of new or removed files to the folder-index consumer.
const ChannelFileMetadataUpdates = "file:metadata:updates"

// Message is the payload on ChannelFileMetadataUpdates.
type Message struct {
	Action string `json:"action"` // "add" | "remove"
	Folder string `json:"folder"`
	File   string `json:"file"`
}

// Handler consumes a raw payload published on a channel.
type Handler func(payload []byte)

// Bus dispatches published payloads to channel subscribers. When a
// Redis client is attached, publishes go through Redis and local
// dispatch happens on delivery, so in-process and cross-process
// subscribers see exactly one copy.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	rdb    *redis.Client
	cancel context.CancelFunc
}

// New creates an in-process Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// AttachRedis mirrors the named channels over Redis. Must be called
// before the first Publish.
func (b *Bus) AttachRedis(ctx context.Context, rdb *redis.Client, channels ...string) {
	ctx, cancel := context.WithCancel(ctx)
	b.rdb = rdb
	b.cancel = cancel

	sub := rdb.Subscribe(ctx, channels...)
	go func() {
		for msg := range sub.Channel() {
			b.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}()
}

// Close stops the Redis subscriber, if any.
func (b *Bus) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Subscribe registers a handler for a channel. Handlers run on the
// publisher's goroutine (or the Redis reader goroutine) and must not block.
func (b *Bus) Subscribe(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], h)
}

// Publish sends a payload to every subscriber of the channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.rdb != nil {
		if err := b.rdb.Publish(ctx, channel, payload).Err(); err == nil {
			return nil
		} else {
			// Redis down: fall back to local dispatch so in-process
			// consumers keep converging.
			log.Printf("bus: redis publish on %s failed: %v (dispatching locally)", channel, err)
		}
	}
	b.dispatch(channel, payload)
	return nil
}

// PublishMessage publishes a Message on ChannelFileMetadataUpdates.
func (b *Bus) PublishMessage(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Publish(ctx, ChannelFileMetadataUpdates, payload)
}

func (b *Bus) dispatch(channel string, payload []byte) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[channel]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
