package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// LinkTokenTTL bounds how long a web link token stays redeemable.
const LinkTokenTTL = time.Hour

// LinkTokenPrefix marks link tokens on the wire.
const LinkTokenPrefix = "wlt_"

// WebLinkToken is a single-use credential binding a web session to an
// existing ticket's identity. Consumption and expiry are both terminal.
type WebLinkToken struct {
	ID        string
	TicketID  string
	Token     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token can still bind a session at the given
// instant.
func (t *WebLinkToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// NewLinkTokenValue generates the token string: a fixed prefix followed by
// 128 bits of random hex.
func NewLinkTokenValue() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return LinkTokenPrefix + hex.EncodeToString(buf)
}
