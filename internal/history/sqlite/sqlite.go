package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/history"
)

// Sink writes events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection: ":memory:" databases are per connection and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + history.DefaultTable + `(
			source_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			PRIMARY KEY (source_id, event_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_status_events_occurred ON ` + history.DefaultTable + `(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Send inserts e. An event already mirrored is left untouched.
func (s *Sink) Send(ctx context.Context, e event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+history.DefaultTable+`(source_id, event_id, product_name, status, message, occurred_at, recorded_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, event_id) DO NOTHING;`,
		e.SourceID, e.EventID, e.ProductName, e.Status, e.Message, e.Timestamp.UTC(), time.Now().UTC())
	return err
}

// Count returns the number of mirrored events for sourceID.
func (s *Sink) Count(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+history.DefaultTable+` WHERE source_id = ?`, sourceID).Scan(&n)
	return n, err
}

func (s *Sink) Name() string { return "sqlite" }

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
