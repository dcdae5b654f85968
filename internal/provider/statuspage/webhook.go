package statuspage

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/loykin/statusr/internal/event"
)

// ParseWebhook converts a Statuspage webhook body into events. Incident
// payloads produce one event per update, component payloads exactly one.
// Anything it cannot read yields no events.
func (a *Adapter) ParseWebhook(body []byte, _ http.Header) []event.Event {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Page == nil {
		return nil
	}
	src := a.sourceForPage(p.Page)
	if src == "" {
		return nil
	}

	switch {
	case p.Incident != nil:
		evs, err := incidentEvents(*p.Incident, src)
		if err != nil {
			return nil
		}
		return evs
	case p.ComponentUpdate != nil:
		e, ok := componentEvent(p.Component, p.ComponentUpdate, src)
		if !ok {
			return nil
		}
		return []event.Event{e}
	default:
		return nil
	}
}

func componentEvent(c *Component, u *ComponentUpdate, src string) (event.Event, bool) {
	compID := u.ComponentID
	name := ""
	if c != nil {
		if c.ID != "" {
			compID = c.ID
		}
		name = c.Name
	}
	if compID == "" || u.ID == "" {
		return event.Event{}, false
	}
	ts, err := parseTime(u.CreatedAt)
	if err != nil {
		return event.Event{}, false
	}
	if name == "" {
		name = compID
	}
	msg := fmt.Sprintf("%s → %s", u.OldStatus, u.NewStatus)
	return event.New(src, name, u.NewStatus, msg, ts, event.ComponentID(compID, u.ID)), true
}
