package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/statusr/internal/event"
)

func testEvent(id string) event.Event {
	return event.New("example", "API Degradation", "monitoring", "A fix has been deployed", time.Now().Add(-time.Minute), id)
}

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	for _, id := range []string{"inc-1_upd-1", "inc-1_upd-2"} {
		if err := sink.Send(ctx, testEvent(id)); err != nil {
			t.Fatalf("Failed to send event %s: %v", id, err)
		}
	}

	n, err := sink.Count(ctx, "example")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 events, got %d", n)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	if err := sink.Send(ctx, testEvent("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	n, err := sink.Count(ctx, "example")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_DuplicateIgnored(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	e := testEvent("dup")
	for i := 0; i < 3; i++ {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	n, err := sink.Count(ctx, "example")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_CancelledContext(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Send(ctx, testEvent("c")); err == nil {
		t.Error("expected error with cancelled context")
	}
}
