package threat

import (
	"errors"
	"sync"
	"sync/atomic"

	"hub-sentinel/internal/schema"
)

// ErrUnknownThreat is returned when a threat ID is not in the buffer.
var ErrUnknownThreat = errors.New("unknown threat")

// Buffer is a thread-safe circular store of recent threats. When full, the
// oldest threat is evicted to admit a new one; the engine never drops the
// incoming threat.
type Buffer struct {
	mu     sync.Mutex
	buffer []*Event
	size   int
	head   int
	count  int
	byID   map[string]*Event

	// Metrics (accessed atomically)
	totalAdded   uint64
	totalEvicted uint64
}

// NewBuffer creates a buffer holding up to size threats.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1000
	}
	return &Buffer{
		buffer: make([]*Event, size),
		size:   size,
		byID:   make(map[string]*Event, size),
	}
}

// Add stores a threat, evicting the oldest when at capacity.
func (b *Buffer) Add(t *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.size {
		old := b.buffer[b.head]
		delete(b.byID, old.ID)
		b.buffer[b.head] = nil
		b.head = (b.head + 1) % b.size
		b.count--
		atomic.AddUint64(&b.totalEvicted, 1)
	}

	tail := (b.head + b.count) % b.size
	b.buffer[tail] = t
	b.byID[t.ID] = t
	b.count++
	atomic.AddUint64(&b.totalAdded, 1)
}

// Get returns a copy of the threat with the given ID.
func (b *Buffer) Get(id string) (*Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// List returns copies of stored threats, newest first. An empty category
// matches all; limit <= 0 means no limit.
func (b *Buffer) List(category schema.Category, limit int) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Event
	for i := b.count - 1; i >= 0; i-- {
		t := b.buffer[(b.head+i)%b.size]
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, t.clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// SetStatus updates a threat's triage status.
func (b *Buffer) SetStatus(id string, status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[id]
	if !ok {
		return ErrUnknownThreat
	}
	t.Status = status
	return nil
}

// AppendMitigation records an executed mitigation on a threat. Unknown IDs
// are ignored; the threat may have been evicted since detection.
func (b *Buffer) AppendMitigation(id, action string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.byID[id]; ok {
		t.Mitigations = append(t.Mitigations, action)
	}
}

// Len returns the number of stored threats.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns total threats added and evicted over the buffer's lifetime.
func (b *Buffer) Stats() (added, evicted uint64) {
	return atomic.LoadUint64(&b.totalAdded), atomic.LoadUint64(&b.totalEvicted)
}

func (t *Event) clone() *Event {
	cp := *t
	cp.Indicators = make(map[string]string, len(t.Indicators))
	for k, v := range t.Indicators {
		cp.Indicators[k] = v
	}
	cp.Mitigations = append([]string(nil), t.Mitigations...)
	return &cp
}
