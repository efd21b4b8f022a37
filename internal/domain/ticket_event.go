package domain

import "time"

// TicketEventKind captures what a ticket audit entry records.
type TicketEventKind string

const (
	EventKindOpened        TicketEventKind = "OPENED"
	EventKindStatusChanged TicketEventKind = "STATUS_CHANGED"
	EventKindRelayFailed   TicketEventKind = "RELAY_FAILED"
	EventKindSLAFired      TicketEventKind = "SLA_FIRED"
	EventKindAutoClosed    TicketEventKind = "AUTO_CLOSED"
)

// TicketEvent is an immutable audit trail entry. Entries are write-once and
// ordered by creation time, newest first for display.
type TicketEvent struct {
	ID          string
	TicketID    string
	Kind        TicketEventKind
	OldValue    *string
	NewValue    *string
	Payload     *string
	Attribution *string
	CreatedAt   time.Time
}
