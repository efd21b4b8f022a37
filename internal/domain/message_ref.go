package domain

import "time"

// MessageOrigin identifies which channel a message first arrived on. Web
// messages carry no client-side message id, so only platform-side origins
// get mappings.
type MessageOrigin string

const (
	OriginPrivate MessageOrigin = "PRIVATE"
	OriginThread  MessageOrigin = "THREAD"
)

// MessageRef links a source message to its mirrored counterpart on the
// paired channel so later edits can be propagated in place.
type MessageRef struct {
	ID                string
	TicketID          string
	Origin            MessageOrigin
	SourceMessageID   int64
	MirroredMessageID int64
	CreatedAt         time.Time
}
