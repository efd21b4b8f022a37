package relay

import (
	"strings"

	"github.com/spec-kit/support-relay/internal/platform"
)

// internalNotePrefix and internalNoteTag mark operator-only notes. Anything
// carrying either marker never leaves the thread.
const (
	internalNotePrefix = "//"
	internalNoteTag    = "#internal"
)

// IsInternalNote reports whether a thread-side message is an operator-only
// note that must not be forwarded to the customer.
func IsInternalNote(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, internalNotePrefix) {
		return true
	}
	first, _, _ := strings.Cut(trimmed, " ")
	return strings.EqualFold(first, internalNoteTag)
}

// IsOwnEcho reports whether a thread-side message was authored by the
// relay's own automated identity. Mirrored messages re-entering through the
// thread adapter would loop forever without this check.
func IsOwnEcho(authorID int64, self *platform.Identity) bool {
	return self != nil && authorID == self.UserID
}

// IsStartCommand reports whether a private message is the platform's
// conversation-start command (possibly with a deep-link payload appended).
func IsStartCommand(text string) bool {
	first, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	return first == "/start"
}
