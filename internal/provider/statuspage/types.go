package statuspage

// Summary is the parsed form of /api/v2/summary.json.
type Summary struct {
	Page       Page        `json:"page"`
	Components []Component `json:"components"`
	Incidents  []Incident  `json:"incidents"`
}

type Page struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type Component struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type Incident struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Impact          string           `json:"impact"`
	Status          string           `json:"status"`
	IncidentUpdates []IncidentUpdate `json:"incident_updates"`
	CreatedAt       string           `json:"created_at,omitempty"`
	UpdatedAt       string           `json:"updated_at,omitempty"`
}

type IncidentUpdate struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ComponentUpdate is the transition carried by a component webhook.
type ComponentUpdate struct {
	ID          string `json:"id"`
	ComponentID string `json:"component_id,omitempty"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	CreatedAt   string `json:"created_at"`
}

// rawSummary keeps page optional so a missing page can be told apart from
// an empty one.
type rawSummary struct {
	Page       *Page       `json:"page"`
	Components []Component `json:"components"`
	Incidents  []Incident  `json:"incidents"`
}

// webhookPayload covers both pushed shapes: incident updates and component
// status changes.
type webhookPayload struct {
	Page            *Page            `json:"page"`
	Incident        *Incident        `json:"incident"`
	Component       *Component       `json:"component"`
	ComponentUpdate *ComponentUpdate `json:"component_update"`
}
