package metastore

import (
	"context"
	"encoding/json"
	"log"

	"github.com/zphilip/anything-llm-nas/internal/bus"
)

// Consumer applies file:metadata:updates messages to the folder
// indexes. On "add" it loads the transient metadata record, merges it
// into the folder index by name (folder level only, last-write-wins),
// then deletes the transient key. On "remove" it drops the entry.
// Both operations are idempotent on the file name.
type Consumer struct {
	store *Store
}

// NewConsumer creates a Consumer and subscribes it on the bus.
func NewConsumer(b *bus.Bus, store *Store) *Consumer {
	c := &Consumer{store: store}
	b.Subscribe(bus.ChannelFileMetadataUpdates, c.handle)
	return c
}

func (c *Consumer) handle(payload []byte) {
	var msg bus.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("metastore: dropping malformed update message: %v", err)
		return
	}
	if msg.Folder == "" || msg.File == "" {
		log.Printf("metastore: dropping update with empty folder/file")
		return
	}

	ctx := context.Background()
	switch msg.Action {
	case "add":
		meta, err := c.store.GetFileMetadata(ctx, msg.Folder, msg.File)
		if err != nil {
			log.Printf("metastore: loading transient metadata for %s/%s: %v", msg.Folder, msg.File, err)
			return
		}
		if meta == nil {
			// Already consumed or expired; nothing to merge.
			return
		}
		if err := c.store.AddFileToFolder(ctx, msg.Folder, *meta); err != nil {
			log.Printf("metastore: merging %s/%s: %v", msg.Folder, msg.File, err)
			return
		}
		if err := c.store.DeleteFileMetadata(ctx, msg.Folder, msg.File); err != nil {
			log.Printf("metastore: deleting transient key for %s/%s: %v", msg.Folder, msg.File, err)
		}
	case "remove":
		if err := c.store.RemoveFileFromFolder(ctx, msg.Folder, msg.File); err != nil {
			log.Printf("metastore: removing %s/%s: %v", msg.Folder, msg.File, err)
		}
	default:
		log.Printf("metastore: unknown update action %q", msg.Action)
	}
}
