package dto

import "time"

// LinkTokenRequest asks for a single-use web link token for a ticket.
type LinkTokenRequest struct {
	TicketID string `json:"ticket_id"`
}

// LinkTokenResponse returns the minted token.
type LinkTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedirectRequest records where a not-yet-known contact came from.
type RedirectRequest struct {
	Identity string `json:"identity"`
	URL      string `json:"url"`
	City     string `json:"city,omitempty"`
}
