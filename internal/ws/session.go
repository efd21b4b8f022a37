package ws

import "github.com/google/uuid"

// NewSessionID mints a canonical v4 session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether s is a well-formed session identifier: the
// canonical hyphenated form of a random (version 4, RFC 4122 variant) UUID.
// Malformed identifiers are rejected before any socket is upgraded.
func ValidSessionID(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}
