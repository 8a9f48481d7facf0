// Package audit provides audit logging for lock, session and script-run events.
package audit

import (
	"fmt"
	"time"
)

// Event represents an auditable fleet event: a lease transition, a script
// run outcome, or a navigation-graph write.
type Event struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	User        string        `json:"user"`
	Device      string        `json:"device"`
	Operation   string        `json:"operation"`
	Host        string        `json:"host,omitempty"`
	TreeID      string        `json:"tree_id,omitempty"`
	Changes     []Change      `json:"changes,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	ExecuteMode bool          `json:"execute_mode"`
	Duration    time.Duration `json:"duration"`
	ClientIP    string        `json:"client_ip,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
}

// Change describes a single field-level mutation recorded against a
// navigation tree write (node/edge save, parent-node sync).
type Change struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// EventType categorizes audit events
type EventType string

const (
	EventTypeTakeControl    EventType = "take_control"
	EventTypeReleaseControl EventType = "release_control"
	EventTypeLeaseExpired   EventType = "lease_expired"
	EventTypeSaveTree       EventType = "save_tree"
	EventTypeScriptStart    EventType = "script_start"
	EventTypeScriptComplete EventType = "script_complete"
)

// Severity indicates the importance of an audit event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	Operation   string
	Host        string
	TreeID      string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, device, operation string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		User:      user,
		Device:    device,
		Operation: operation,
	}
}

// WithHost sets the owning host name
func (e *Event) WithHost(host string) *Event {
	e.Host = host
	return e
}

// WithTree sets the navigation tree id
func (e *Event) WithTree(treeID string) *Event {
	e.TreeID = treeID
	return e
}

// WithChanges sets the field-level changes recorded for a graph write
func (e *Event) WithChanges(changes []Change) *Event {
	e.Changes = changes
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithExecuteMode marks if the run was a live execution versus a dry run
func (e *Event) WithExecuteMode(execute bool) *Event {
	e.ExecuteMode = execute
	return e
}

// WithSessionID sets the session id
func (e *Event) WithSessionID(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
