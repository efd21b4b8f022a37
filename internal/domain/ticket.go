package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew           TicketStatus = "NEW"
	TicketStatusInProgress    TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingClient TicketStatus = "WAITING_CLIENT"
	TicketStatusClosed        TicketStatus = "CLOSED"
)

// Ticket is the durable record of one customer's support conversation. The
// ExternalID references the messaging-platform identity and is immutable once
// created; ThreadID binds the ticket 1:1 to an operator-facing thread.
type Ticket struct {
	ID           string
	ExternalID   string
	DisplayName  string
	Handle       string
	Status       TicketStatus
	ThreadID     int64
	ReferrerURL  *string
	ReferrerCity *string
	CreatedAt    time.Time
}

// Open reports whether the ticket is in a non-terminal state.
func (t *Ticket) Open() bool {
	return t.Status != TicketStatusClosed
}

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusNew:           {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress:    {TicketStatusWaitingClient, TicketStatusClosed},
	TicketStatusWaitingClient: {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusClosed:        {},
}

// ValidTransition reports whether moving from current to next is allowed.
// CLOSED is terminal; a closed conversation resumes as a new ticket.
func ValidTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
