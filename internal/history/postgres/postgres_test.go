package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ts := time.Date(2025, 11, 3, 14, 32, 0, 0, time.UTC)
	first := event.New("example", "API Degradation", "investigating", "Looking into it", ts, "inc-1_upd-1")
	second := event.New("example", "API Degradation", "monitoring", "A fix has been deployed", ts.Add(time.Hour), "inc-1_upd-2")

	for _, e := range []event.Event{first, second, first} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send event %s: %v", e.EventID, err)
		}
	}

	var count int
	err = sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+history.DefaultTable+" WHERE source_id = $1", "example").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query %s: %v", history.DefaultTable, err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}

	var status string
	var occurred time.Time
	err = sink.db.QueryRowContext(ctx, "SELECT status, occurred_at FROM "+history.DefaultTable+" WHERE event_id = $1", "inc-1_upd-1").Scan(&status, &occurred)
	if err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}
	if status != "investigating" || !occurred.Equal(ts) {
		t.Errorf("unexpected row: status=%q occurred_at=%v", status, occurred)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
