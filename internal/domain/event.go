package domain

import "time"

// EventType discriminates pipeline events
type EventType string

const (
	EventState EventType = "state"
	EventBuild EventType = "build"
	EventTest  EventType = "test"

	// EventNotification mirrors an operator notification
	EventNotification EventType = "notification"
)

// Event is published to live observers as a pipeline progresses
type Event struct {
	Type     EventType `json:"type"`
	Task     string    `json:"task"`
	Bundle   string    `json:"bundle,omitempty"`
	State    RunState  `json:"state,omitempty"`
	Passed   bool      `json:"passed"`
	Warnings []string  `json:"warnings,omitempty"`
	Errors   []string  `json:"errors,omitempty"`
	URL      string    `json:"url,omitempty"`
	Title    string    `json:"title,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}
