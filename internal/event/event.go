package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is the normalized record every provider adapter produces and the
// event log stores. Values are never mutated after construction; an incident
// that changes again shows up as a new Event with a new EventID.
type Event struct {
	SourceID    string    `json:"source_id"`
	ProductName string    `json:"product_name"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	EventID     string    `json:"event_id"`
}

// Key identifies an event for deduplication. EventID is only unique within
// a source, so both parts are needed.
type Key struct {
	SourceID string
	EventID  string
}

var (
	ErrEmptySourceID = errors.New("event: source_id cannot be empty")
	ErrEmptyEventID  = errors.New("event: event_id cannot be empty")
	ErrZeroTimestamp = errors.New("event: timestamp cannot be zero")
)

// New builds an Event with its timestamp resolved to UTC.
func New(sourceID, productName, status, message string, ts time.Time, eventID string) Event {
	return Event{
		SourceID:    sourceID,
		ProductName: productName,
		Status:      status,
		Message:     message,
		Timestamp:   ts.UTC(),
		EventID:     eventID,
	}
}

// Key returns the dedup key of e.
func (e Event) Key() Key { return Key{SourceID: e.SourceID, EventID: e.EventID} }

// Validate checks the fields the log and the detector rely on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.SourceID) == "" {
		return ErrEmptySourceID
	}
	if strings.TrimSpace(e.EventID) == "" {
		return ErrEmptyEventID
	}
	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// CompositeID joins an incident id and one of its update ids into the
// event id used for incident-derived events.
func CompositeID(incidentID, updateID string) string {
	return incidentID + "_" + updateID
}

// ComponentID namespaces component-status events so they never collide with
// incident-derived ids.
func ComponentID(componentID, updateID string) string {
	return fmt.Sprintf("comp_%s_%s", componentID, updateID)
}
