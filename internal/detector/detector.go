package detector

import "github.com/loykin/statusr/internal/event"

// Detector keeps the per-source set of event ids already observed and
// reports which events in a batch are new.
//
// A Detector is not safe for concurrent use. The pipeline serializes access
// together with the event log append.
type Detector struct {
	seen map[string]map[string]struct{}
	n    int
}

func New() *Detector {
	return &Detector{seen: make(map[string]map[string]struct{})}
}

// FilterNew returns the events of batch whose (source_id, event_id) has not
// been seen, in input order, and marks them as seen. Duplicates within the
// batch are returned once.
func (d *Detector) FilterNew(batch []event.Event) []event.Event {
	var out []event.Event
	for _, e := range batch {
		if d.mark(e) {
			out = append(out, e)
		}
	}
	return out
}

// Seed marks events as seen without returning them.
func (d *Detector) Seed(events []event.Event) {
	for _, e := range events {
		d.mark(e)
	}
}

// Forget removes events from the seen-set so a failed commit can be retried.
func (d *Detector) Forget(events []event.Event) {
	for _, e := range events {
		ids, ok := d.seen[e.SourceID]
		if !ok {
			continue
		}
		if _, ok := ids[e.EventID]; !ok {
			continue
		}
		delete(ids, e.EventID)
		d.n--
		if len(ids) == 0 {
			delete(d.seen, e.SourceID)
		}
	}
}

// Seen reports whether e was already observed.
func (d *Detector) Seen(e event.Event) bool {
	_, ok := d.seen[e.SourceID][e.EventID]
	return ok
}

// Len returns the number of remembered (source_id, event_id) pairs.
func (d *Detector) Len() int { return d.n }

func (d *Detector) mark(e event.Event) bool {
	ids, ok := d.seen[e.SourceID]
	if !ok {
		ids = make(map[string]struct{})
		d.seen[e.SourceID] = ids
	}
	if _, dup := ids[e.EventID]; dup {
		return false
	}
	ids[e.EventID] = struct{}{}
	d.n++
	return true
}
