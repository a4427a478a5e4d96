package domain

import "time"

// EventKind classifies an inbound push event. The one wire shape carries
// different semantics per type, so events are modeled as a tagged union over
// the known kinds plus an explicit unknown variant instead of dynamic field
// probing.
type EventKind int

// Push event kinds.
const (
	KindUnknown EventKind = iota
	KindCommunicationAdded
	KindResolved
	KindReopened
	KindCreated
)

// String returns the wire name for k.
func (k EventKind) String() string {
	switch k {
	case KindCommunicationAdded:
		return "CommunicationAdded"
	case KindResolved:
		return "ResolveCase"
	case KindReopened:
		return "ReopenCase"
	case KindCreated:
		return "CreateCase"
	default:
		return "Unknown"
	}
}

// PushEvent is one inbound notification from the ticketing system. Delivery
// is at-least-once; ID is the dedup key.
type PushEvent struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	CaseID          string `json:"caseId"`
	CommunicationID string `json:"communicationId,omitempty"`
}

// Kind maps the wire type string onto the event union. Unrecognized types
// yield KindUnknown and are ignored downstream.
func (e PushEvent) Kind() EventKind {
	switch e.Type {
	case "CommunicationAdded", "AddCommunicationToCase":
		return KindCommunicationAdded
	case "ResolveCase":
		return KindResolved
	case "ReopenCase":
		return KindReopened
	case "CreateCase":
		return KindCreated
	default:
		return KindUnknown
	}
}

// ProcessedEvent records that a push event id has been handled. Rows are
// written on first sight and never deleted; expiry is evaluated at read time
// against the dedup window, collapsing at-least-once redelivery.
type ProcessedEvent struct {
	EventID     string    `gorm:"type:varchar(128);primaryKey"`
	ProcessedAt time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for ProcessedEvent.
func (ProcessedEvent) TableName() string { return "processed_events" }
