package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/contextstore"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/ratelimit"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/pkg/util"
)

// WidgetHandler serves the web-chat widget's REST surface: issuing link
// tokens, recording redirect attribution, and exposing the audit trail.
type WidgetHandler struct {
	store    *service.TicketStore
	tokens   repository.LinkTokenRepository
	contexts *contextstore.Store
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

// NewWidgetHandler constructs handler.
func NewWidgetHandler(store *service.TicketStore, tokens repository.LinkTokenRepository, contexts *contextstore.Store, limiter *ratelimit.Limiter, logger *zap.Logger) *WidgetHandler {
	return &WidgetHandler{store: store, tokens: tokens, contexts: contexts, limiter: limiter, logger: logger}
}

// IssueLinkToken handles POST /widget/link-token.
func (h *WidgetHandler) IssueLinkToken(c *fiber.Ctx) error {
	if result := h.limiter.CheckAddress(c.UserContext(), c.IP()); !result.Allowed {
		return util.NewRateLimited(result.ResetInSeconds)
	}

	var req dto.LinkTokenRequest
	if err := c.BodyParser(&req); err != nil || req.TicketID == "" {
		return util.NewValidationError("ticket_id required", nil)
	}

	ticket, err := h.store.GetByID(c.UserContext(), req.TicketID)
	if err != nil {
		return err
	}
	if !ticket.Open() {
		return util.NewValidationError("ticket is closed", map[string]any{"ticket_id": ticket.ID})
	}

	token := &domain.WebLinkToken{
		TicketID:  ticket.ID,
		Token:     domain.NewLinkTokenValue(),
		ExpiresAt: time.Now().Add(domain.LinkTokenTTL),
	}
	if err := h.tokens.Create(c.UserContext(), token); err != nil {
		return util.NewUpstreamUnavailable("token store", err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.LinkTokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt},
	})
}

// RecordRedirect handles POST /widget/redirect, capturing where a contact
// came from before they start a conversation.
func (h *WidgetHandler) RecordRedirect(c *fiber.Ctx) error {
	if result := h.limiter.CheckAddress(c.UserContext(), c.IP()); !result.Allowed {
		return util.NewRateLimited(result.ResetInSeconds)
	}

	var req dto.RedirectRequest
	if err := c.BodyParser(&req); err != nil || req.Identity == "" || req.URL == "" {
		return util.NewValidationError("identity and url required", nil)
	}

	if err := h.contexts.SetRedirectContext(c.UserContext(), req.Identity, contextstore.RedirectContext{
		URL:  req.URL,
		City: req.City,
	}); err != nil {
		h.logger.Warn("redirect context store failed", zap.Error(err))
		return util.NewUpstreamUnavailable("context store", err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// ListEvents handles GET /tickets/:id/events, newest first.
func (h *WidgetHandler) ListEvents(c *fiber.Ctx) error {
	ticketID := c.Params("id")
	if ticketID == "" {
		return util.NewValidationError("ticket id required", nil)
	}
	events, err := h.store.ListEvents(c.UserContext(), ticketID, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": events})
}
