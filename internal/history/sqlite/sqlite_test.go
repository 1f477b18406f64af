package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/orchestral/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now()
	events := []history.Event{
		history.NewEvent(history.KindPerformanceStarted, "worker", "production", map[string]any{"performers": 2}, now),
		history.NewEvent(history.KindPerformerRestarted, "worker-1", "production", map[string]any{"reason": "Process not running"}, now),
		history.NewEvent(history.KindPerformerRestarted, "worker-1", "production", nil, now),
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Kind, err)
		}
	}

	n, err := sink.Count(ctx, "worker-1", history.KindPerformerRestarted)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restart events, got %d", n)
	}

	// duplicate ID is rejected by the primary key
	if err := sink.Send(ctx, events[0]); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Send(context.Background(), history.NewEvent(history.KindMemoryExceeded, "w-1", "local", nil, time.Now())); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
