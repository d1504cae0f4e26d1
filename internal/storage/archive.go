package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hub-sentinel/internal/threat"
)

// ThreatInserter writes a batch of threats to the backing store.
type ThreatInserter interface {
	InsertThreats(ctx context.Context, threats []*threat.Event) error
}

// ArchiveConfig controls batching and retry behavior of the threat archive.
type ArchiveConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultArchiveConfig returns the default archive configuration.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// ThreatArchive buffers threats and flushes them in batches. Add returns
// immediately while the buffer has room; filling it triggers a synchronous
// flush on the calling goroutine, including its retries. A timer flushes
// partial batches.
type ThreatArchive struct {
	inserter ThreatInserter
	config   ArchiveConfig
	logger   *slog.Logger

	mu         sync.Mutex
	buffer     []*threat.Event
	flushTimer *time.Timer
	closed     bool

	totalArchived atomic.Int64
	totalDropped  atomic.Int64
	batchCount    atomic.Int64
}

// NewThreatArchive creates an archive writing through the given inserter.
func NewThreatArchive(inserter ThreatInserter, cfg ArchiveConfig, logger *slog.Logger) *ThreatArchive {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultArchiveConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultArchiveConfig().FlushInterval
	}
	return &ThreatArchive{
		inserter: inserter,
		config:   cfg,
		logger:   logger,
		buffer:   make([]*threat.Event, 0, cfg.BatchSize),
	}
}

// Add queues a threat for archival.
func (a *ThreatArchive) Add(t *threat.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.totalDropped.Add(1)
		return
	}

	a.buffer = append(a.buffer, t)

	if len(a.buffer) >= a.config.BatchSize {
		a.flushLocked()
		return
	}
	if a.flushTimer == nil {
		a.flushTimer = time.AfterFunc(a.config.FlushInterval, a.timedFlush)
	}
}

func (a *ThreatArchive) timedFlush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushTimer = nil
	if len(a.buffer) > 0 {
		a.flushLocked()
	}
}

// Flush forces any buffered threats to the store.
func (a *ThreatArchive) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffer) > 0 {
		a.flushLocked()
	}
}

// flushLocked writes the current buffer with retries. Caller holds mu.
func (a *ThreatArchive) flushLocked() {
	batch := a.buffer
	a.buffer = make([]*threat.Event, 0, a.config.BatchSize)
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}

	var err error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(a.config.RetryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = a.inserter.InsertThreats(ctx, batch)
		cancel()
		if err == nil {
			a.totalArchived.Add(int64(len(batch)))
			a.batchCount.Add(1)
			return
		}
		a.logger.Warn("threat archive flush failed",
			"attempt", attempt+1,
			"batch_size", len(batch),
			"error", err)
	}

	a.totalDropped.Add(int64(len(batch)))
	a.logger.Error("threat archive batch dropped after retries",
		"batch_size", len(batch),
		"error", err)
}

// ArchiveStats reports archive counters.
type ArchiveStats struct {
	Archived int64
	Dropped  int64
	Batches  int64
	Buffered int
}

// Stats returns a snapshot of archive counters.
func (a *ThreatArchive) Stats() ArchiveStats {
	a.mu.Lock()
	buffered := len(a.buffer)
	a.mu.Unlock()
	return ArchiveStats{
		Archived: a.totalArchived.Load(),
		Dropped:  a.totalDropped.Load(),
		Batches:  a.batchCount.Load(),
		Buffered: buffered,
	}
}

// Close flushes remaining threats and stops the archive.
func (a *ThreatArchive) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if len(a.buffer) > 0 {
		a.flushLocked()
	}
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
}
