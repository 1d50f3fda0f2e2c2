// Package audit provides audit logging for connection lifecycle events.
package audit

import (
	"fmt"
	"time"
)

// Event represents an auditable connection lifecycle event: a state
// transition (or attempted transition) on one connection, optionally
// scoped to a single segment/network.
type Event struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	ConnectionID string        `json:"connection_id"`
	RequesterURN string        `json:"requester_urn,omitempty"`
	Network      string        `json:"network,omitempty"`
	Operation    string        `json:"operation"`
	FromState    string        `json:"from_state,omitempty"`
	ToState      string        `json:"to_state,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	ClientIP     string        `json:"client_ip,omitempty"`
}

// EventType categorizes audit events by the NSI primitive that produced
// them.
type EventType string

const (
	EventTypeReserve       EventType = "reserve"
	EventTypeReserveCommit EventType = "reserve_commit"
	EventTypeReserveAbort  EventType = "reserve_abort"
	EventTypeProvision     EventType = "provision"
	EventTypeRelease       EventType = "release"
	EventTypeTerminate     EventType = "terminate"
	EventTypeQuery         EventType = "query"
)

// Severity indicates the importance of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Filter defines criteria for querying audit events.
type Filter struct {
	ConnectionID string
	RequesterURN string
	Network      string
	Operation    string
	StartTime    time.Time
	EndTime      time.Time
	SuccessOnly  bool
	FailureOnly  bool
	Limit        int
	Offset       int
}

// NewEvent creates a new audit event for connectionID.
func NewEvent(connectionID, requesterURN, operation string) *Event {
	return &Event{
		ID:           generateID(),
		Timestamp:    time.Now(),
		ConnectionID: connectionID,
		RequesterURN: requesterURN,
		Operation:    operation,
	}
}

// WithNetwork scopes the event to a single network/segment.
func (e *Event) WithNetwork(network string) *Event {
	e.Network = network
	return e
}

// WithTransition records the from/to state of this event.
func (e *Event) WithTransition(from, to string) *Event {
	e.FromState = from
	e.ToState = to
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithClientIP records the originating client address.
func (e *Event) WithClientIP(ip string) *Event {
	e.ClientIP = ip
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
