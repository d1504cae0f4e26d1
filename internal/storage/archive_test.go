package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/threat"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]*threat.Event
	failFor int
}

func (f *fakeInserter) InsertThreats(_ context.Context, threats []*threat.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return errors.New("connection refused")
	}
	f.batches = append(f.batches, threats)
	return nil
}

func (f *fakeInserter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func sampleThreat() *threat.Event {
	return threat.New(schema.CategoryAuthentication, schema.SeverityHigh, schema.MethodRuleBased, time.Now())
}

func TestArchiveFlushesAtBatchSize(t *testing.T) {
	ins := &fakeInserter{}
	arch := NewThreatArchive(ins, ArchiveConfig{BatchSize: 3, FlushInterval: time.Hour, MaxRetries: 0, RetryDelay: time.Millisecond}, nil)

	arch.Add(sampleThreat())
	arch.Add(sampleThreat())
	if ins.batchCount() != 0 {
		t.Fatalf("flushed before batch size reached")
	}

	arch.Add(sampleThreat())
	if got := ins.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	if len(ins.batches[0]) != 3 {
		t.Fatalf("batch size = %d, want 3", len(ins.batches[0]))
	}

	stats := arch.Stats()
	if stats.Archived != 3 || stats.Buffered != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestArchiveTimerFlushesPartialBatch(t *testing.T) {
	ins := &fakeInserter{}
	arch := NewThreatArchive(ins, ArchiveConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, MaxRetries: 0, RetryDelay: time.Millisecond}, nil)

	arch.Add(sampleThreat())

	deadline := time.Now().Add(2 * time.Second)
	for ins.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ins.batchCount() != 1 {
		t.Fatal("timer did not flush partial batch")
	}
}

func TestArchiveRetriesThenSucceeds(t *testing.T) {
	ins := &fakeInserter{failFor: 2}
	arch := NewThreatArchive(ins, ArchiveConfig{BatchSize: 1, FlushInterval: time.Hour, MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	arch.Add(sampleThreat())
	if got := ins.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1 after retries", got)
	}
	if arch.Stats().Dropped != 0 {
		t.Fatal("nothing should be dropped")
	}
}

func TestArchiveDropsAfterExhaustedRetries(t *testing.T) {
	ins := &fakeInserter{failFor: 10}
	arch := NewThreatArchive(ins, ArchiveConfig{BatchSize: 1, FlushInterval: time.Hour, MaxRetries: 1, RetryDelay: time.Millisecond}, nil)

	arch.Add(sampleThreat())
	stats := arch.Stats()
	if stats.Dropped != 1 || stats.Archived != 0 {
		t.Fatalf("stats = %+v, want 1 dropped", stats)
	}
}

func TestArchiveCloseFlushesAndRejects(t *testing.T) {
	ins := &fakeInserter{}
	arch := NewThreatArchive(ins, ArchiveConfig{BatchSize: 100, FlushInterval: time.Hour, MaxRetries: 0, RetryDelay: time.Millisecond}, nil)

	arch.Add(sampleThreat())
	arch.Close()
	if got := ins.batchCount(); got != 1 {
		t.Fatalf("close did not flush, batches = %d", got)
	}

	arch.Add(sampleThreat())
	if arch.Stats().Dropped != 1 {
		t.Fatal("add after close should be dropped")
	}
}

func TestDefaultConfigs(t *testing.T) {
	ch := DefaultClickHouseConfig()
	if ch.Database != "sentinel" || len(ch.Hosts) != 1 {
		t.Fatalf("unexpected clickhouse defaults: %+v", ch)
	}
	ac := DefaultArchiveConfig()
	if ac.BatchSize != 1000 || ac.FlushInterval != 5*time.Second {
		t.Fatalf("unexpected archive defaults: %+v", ac)
	}
}
