package platform

import "context"

// Identity describes the bot's own platform identity, used for echo
// suppression on the thread side.
type Identity struct {
	UserID   int64
	Username string
}

// Admin is a thread administrator entry.
type Admin struct {
	UserID   int64
	Username string
}

// OutgoingMessage carries a message to be sent into a chat or thread.
// A zero ChatID targets the operator group the client was configured with;
// ThreadID selects the thread inside it. Either Text or FileID is set;
// FileID references an attachment already stored on the platform.
type OutgoingMessage struct {
	ChatID   int64
	ThreadID int64
	Text     string
	FileID   string
}

// SentMessage is the platform's acknowledgement of a send.
type SentMessage struct {
	MessageID int64
}

// Client is the messaging-platform surface the relay consumes. Every call is
// independently failable; the relay treats failures as best-effort per its
// own policy.
type Client interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) (*SentMessage, error)
	EditMessage(ctx context.Context, chatID, threadID, messageID int64, text string) error
	CreateThread(ctx context.Context, title string) (int64, error)
	ThreadAdmins(ctx context.Context) ([]Admin, error)
	Me(ctx context.Context) (*Identity, error)
}
