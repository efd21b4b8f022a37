package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/ratelimit"
	"github.com/spec-kit/support-relay/internal/relay"
	"github.com/spec-kit/support-relay/pkg/util"
)

// WebhookHandler ingests platform update envelopes and dispatches them into
// the relay.
type WebhookHandler struct {
	relay   *relay.Relay
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(r *relay.Relay, limiter *ratelimit.Limiter, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{relay: r, limiter: limiter, logger: logger}
}

// Handle processes POST /webhook/platform.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	var update dto.PlatformUpdate
	if err := c.BodyParser(&update); err != nil {
		return util.NewValidationError("malformed update envelope", nil)
	}

	ctx := c.UserContext()

	switch {
	case update.Message != nil:
		msg := update.Message
		identity := strconv.FormatInt(msg.From.ID, 10)
		if result := h.limiter.CheckIdentity(ctx, identity); !result.Allowed {
			h.logger.Info("identity rate limited", zap.String("identity", identity))
			return util.NewRateLimited(result.ResetInSeconds)
		}
		if msg.ThreadID != 0 {
			if err := h.relay.HandleThreadMessage(ctx, inbound(msg)); err != nil {
				return err
			}
		} else {
			if err := h.relay.HandlePrivateMessage(ctx, inbound(msg)); err != nil {
				return err
			}
		}

	case update.EditedMessage != nil:
		msg := update.EditedMessage
		origin := domain.OriginPrivate
		if msg.ThreadID != 0 {
			origin = domain.OriginThread
		}
		if err := h.relay.HandleEdit(ctx, origin, msg.MessageID, msg.Text); err != nil {
			return err
		}

	case update.Callback != nil:
		cb := update.Callback
		if cb.Action != "resolved" {
			return util.NewValidationError("unknown callback action", map[string]any{"action": cb.Action})
		}
		identity := strconv.FormatInt(cb.From.ID, 10)
		if err := h.relay.ResolveByCustomer(ctx, cb.TicketID, identity); err != nil {
			return err
		}

	default:
		return util.NewValidationError("empty update envelope", nil)
	}

	return c.SendStatus(http.StatusOK)
}

func inbound(msg *dto.PlatformMessage) relay.InboundMessage {
	return relay.InboundMessage{
		MessageID:    msg.MessageID,
		AuthorID:     msg.From.ID,
		AuthorName:   msg.From.FirstName,
		AuthorHandle: msg.From.Username,
		Text:         msg.Text,
		FileID:       msg.FileID,
		ThreadID:     msg.ThreadID,
	}
}
