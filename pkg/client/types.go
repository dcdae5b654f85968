package client

import "time"

// Event mirrors one record returned by the events endpoint.
type Event struct {
	SourceID    string    `json:"source_id"`
	ProductName string    `json:"product_name"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	EventID     string    `json:"event_id"`
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Count  int     `json:"count"`
	Events []Event `json:"events"`
}

// WebhookResponse is the body of POST /webhook.
type WebhookResponse struct {
	Accepted int `json:"accepted"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
