package dto

// PlatformUser identifies the author of a platform message.
type PlatformUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// PlatformChat identifies where a message was posted.
type PlatformChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// PlatformMessage is one message inside an update envelope. A non-zero
// ThreadID places it on the operator thread side; otherwise it is a private
// direct message.
type PlatformMessage struct {
	MessageID int64        `json:"message_id"`
	From      PlatformUser `json:"from"`
	Chat      PlatformChat `json:"chat"`
	ThreadID  int64        `json:"message_thread_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	FileID    string       `json:"file_id,omitempty"`
}

// PlatformCallback is an inline action press (e.g. "resolved").
type PlatformCallback struct {
	From     PlatformUser `json:"from"`
	Action   string       `json:"action"`
	TicketID string       `json:"ticket_id"`
}

// PlatformUpdate is the webhook envelope; exactly one field is set.
type PlatformUpdate struct {
	Message       *PlatformMessage  `json:"message,omitempty"`
	EditedMessage *PlatformMessage  `json:"edited_message,omitempty"`
	Callback      *PlatformCallback `json:"callback,omitempty"`
}
