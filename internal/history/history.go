package history

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/statusr/internal/event"
)

// DefaultTable is the table (or index) sinks write to when the DSN names none.
const DefaultTable = "status_events"

// Sink is a destination that mirrors committed events into an external
// analytics system. Mirrors are best effort: they never feed back into
// deduplication or the event log.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e event.Event) error
}

// Record is the document shape written by document-oriented sinks.
type Record struct {
	SourceID    string    `json:"source_id"`
	EventID     string    `json:"event_id"`
	ProductName string    `json:"product_name"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// NewRecord stamps e with the time it was mirrored.
func NewRecord(e event.Event, recordedAt time.Time) Record {
	return Record{
		SourceID:    e.SourceID,
		EventID:     e.EventID,
		ProductName: e.ProductName,
		Status:      e.Status,
		Message:     e.Message,
		OccurredAt:  e.Timestamp.UTC(),
		RecordedAt:  recordedAt.UTC(),
	}
}

// DocID is a stable document id, so re-sending an event overwrites it.
func DocID(e event.Event) string {
	return e.SourceID + ":" + e.EventID
}

// Name returns a short label for s, used in logs and metrics.
func Name(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
