package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/provider"
)

// Detect guesses the provider of a pushed payload from its shape. It is the
// fallback for requests that do not name their provider.
//
// Statuspage payloads are objects carrying "page" together with "incident"
// or "component_update".
func Detect(body []byte) provider.Kind {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return provider.KindNone
	}
	if isObject(top["page"]) && (isObject(top["incident"]) || isObject(top["component_update"])) {
		return provider.KindStatuspage
	}
	return provider.KindNone
}

func isObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// Dispatcher routes webhook bodies to the adapter of their provider.
type Dispatcher struct {
	adapters map[provider.Kind]provider.Adapter
}

func NewDispatcher(adapters map[provider.Kind]provider.Adapter) *Dispatcher {
	m := make(map[provider.Kind]provider.Adapter, len(adapters))
	for k, a := range adapters {
		if a != nil {
			m[k] = a
		}
	}
	return &Dispatcher{adapters: m}
}

// Dispatch sniffs the provider from the body and parses it. Unknown shapes
// yield no events and KindNone.
func (d *Dispatcher) Dispatch(body []byte, header http.Header) (provider.Kind, []event.Event) {
	kind := Detect(body)
	return kind, d.DispatchTo(kind, body, header)
}

// DispatchTo parses body with the adapter for kind. A kind without an adapter
// yields no events.
func (d *Dispatcher) DispatchTo(kind provider.Kind, body []byte, header http.Header) []event.Event {
	if d == nil || kind == provider.KindNone {
		return nil
	}
	a, ok := d.adapters[kind]
	if !ok {
		return nil
	}
	return a.ParseWebhook(body, header)
}

// Adapter returns the adapter registered for kind.
func (d *Dispatcher) Adapter(kind provider.Kind) (provider.Adapter, bool) {
	if d == nil {
		return nil, false
	}
	a, ok := d.adapters[kind]
	return a, ok
}
