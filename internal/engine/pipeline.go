package engine

import (
	"hash/fnv"
	"sync"

	"hub-sentinel/internal/schema"
)

// shardFor picks the mutex that serializes processing for the event's
// entity. Events without a user or device fall back to source IP, then to
// the event id, so they never contend with entity traffic.
func (e *Engine) shardFor(event *schema.SecurityEvent) *sync.Mutex {
	key := event.EntityKey()
	if key == "" {
		key = event.SourceIP
	}
	if key == "" {
		key = event.EventID.String()
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	return &e.shards[h.Sum32()%uint32(len(e.shards))]
}
