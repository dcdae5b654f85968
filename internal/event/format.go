package event

import (
	"fmt"
	"io"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// Format renders e the way the console output shows it:
//
//	[2025-11-03 14:32:00] Product: API Degradation
//	Status: We are monitoring the fix.
func Format(e Event) string {
	return fmt.Sprintf("[%s] Product: %s\nStatus: %s", e.Timestamp.UTC().Format(consoleTimeLayout), e.ProductName, e.Message)
}

// Writer prints formatted events to an underlying io.Writer, one block per event.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Write prints every event in order. It stops at the first write error.
func (w *Writer) Write(events []Event) error {
	if w == nil || w.w == nil {
		return nil
	}
	for _, e := range events {
		if _, err := fmt.Fprintln(w.w, Format(e)); err != nil {
			return err
		}
	}
	return nil
}
