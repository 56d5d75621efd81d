// Package audit records session lifecycle and policy denial events
package audit

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeLogin          EventType = "login"
	EventTypeLoginFailed    EventType = "login_failed"
	EventTypeLogout         EventType = "logout"
	EventTypeRefresh        EventType = "refresh"
	EventTypeSessionExpired EventType = "session_expired"
	EventTypeSessionRestore EventType = "session_restored"
	EventTypeMutationDenied EventType = "mutation_denied"
	EventTypePolicyReload   EventType = "policy_reload"
	EventTypeSystemStartup  EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// Event represents a generic audit event
type Event struct {
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	EventID      string                 `json:"event_id"`
	RequestID    string                 `json:"request_id,omitempty"`
	PrincipalID  string                 `json:"principal_id,omitempty"`
	Role         string                 `json:"role,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time and a fresh ID
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		EventID:   generateEventID(),
	}
}

// generateEventID returns a lexically sortable event ID
func generateEventID() string {
	return "evt-" + ulid.Make().String()
}
