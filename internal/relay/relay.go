package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/contextstore"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/platform"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/internal/timer"
	"github.com/spec-kit/support-relay/pkg/util"
)

// webIdentityPrefix marks tickets originated from the web widget, which have
// no direct-message chat on the platform.
const webIdentityPrefix = "web:"

// WebPusher delivers relay output to any open sockets bound to a ticket.
// Implemented by the connection manager.
type WebPusher interface {
	PushMessage(ticketID, text string)
	PushStatus(ticketID string, status domain.TicketStatus)
	PushTyping(ticketID string)
}

// InboundMessage is a message arriving from the platform adapter, either the
// private side or the thread side.
type InboundMessage struct {
	MessageID    int64
	AuthorID     int64
	AuthorName   string
	AuthorHandle string
	Text         string
	FileID       string
	ThreadID     int64
}

// Relay forwards messages between the customer-facing channels and the
// operator thread bound to each ticket. Mirroring is always attempted after
// the ticket record is durable: a relay failure can delay visibility but
// never corrupts ticket state.
type Relay struct {
	store    *service.TicketStore
	refs     repository.MessageRefRepository
	client   platform.Client
	timers   *timer.Registry
	contexts *contextstore.Store
	push     WebPusher
	metrics  *observability.Metrics
	logger   *zap.Logger
	self     *platform.Identity
}

// Dependencies bundles relay collaborators.
type Dependencies struct {
	Store    *service.TicketStore
	RefRepo  repository.MessageRefRepository
	Platform platform.Client
	Timers   *timer.Registry
	Contexts *contextstore.Store
	Push     WebPusher
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	// Self is the relay's own platform identity, resolved once at bootstrap.
	Self *platform.Identity
}

// New constructs the relay.
func New(deps Dependencies) *Relay {
	return &Relay{
		store:    deps.Store,
		refs:     deps.RefRepo,
		client:   deps.Platform,
		timers:   deps.Timers,
		contexts: deps.Contexts,
		push:     deps.Push,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		self:     deps.Self,
	}
}

// HandlePrivateMessage processes an inbound direct message from the
// platform. Unknown identities open a new ticket; known identities get their
// message forwarded into the bound thread.
func (r *Relay) HandlePrivateMessage(ctx context.Context, msg InboundMessage) error {
	identity := strconv.FormatInt(msg.AuthorID, 10)

	ticket, err := r.store.FindByIdentity(ctx, identity)
	if err != nil {
		r.notifyPrivate(ctx, msg.AuthorID, "Something went wrong, please try again in a moment.")
		return err
	}
	if ticket == nil {
		if IsStartCommand(msg.Text) {
			return r.greet(ctx, identity, msg.AuthorID)
		}
		return r.openTicketFromPrivate(ctx, identity, msg)
	}

	r.onCustomerReply(ctx, ticket)
	r.mirrorToThread(ctx, ticket, domain.OriginPrivate, msg, msg.AuthorID)
	return nil
}

// HandleThreadMessage processes an operator message from the thread side.
// The relay's own mirrored messages and internal notes are never forwarded.
func (r *Relay) HandleThreadMessage(ctx context.Context, msg InboundMessage) error {
	if IsOwnEcho(msg.AuthorID, r.self) {
		return nil
	}
	if IsInternalNote(msg.Text) {
		return nil
	}

	ticket, err := r.store.FindByThread(ctx, msg.ThreadID)
	if err != nil {
		return err
	}
	if ticket == nil {
		r.logger.Warn("thread message without ticket binding; dropping",
			zap.Int64("thread_id", msg.ThreadID),
			zap.Int64("message_id", msg.MessageID),
			zap.String("preview", preview(msg.Text)))
		return nil
	}

	r.forwardToCustomer(ctx, ticket, msg)
	r.onOperatorReply(ctx, ticket)
	return nil
}

// HandleWebMessage processes a message from a web session already bound to
// its ticket. The returned error doubles as the delivery acknowledgement for
// the socket: nil only after the platform-side send succeeded.
func (r *Relay) HandleWebMessage(ctx context.Context, ticketID, text string) error {
	ticket, err := r.store.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}

	// Widget messages carry no client-side id, so no edit mapping is kept.
	if _, err := r.client.SendMessage(ctx, platform.OutgoingMessage{
		ThreadID: ticket.ThreadID,
		Text:     formatCustomerLine(ticket, text),
	}); err != nil {
		r.metrics.RecordRelay("web_to_thread", "failed")
		r.logger.Error("web message mirror failed",
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
		return util.NewUpstreamUnavailable("platform", err)
	}
	r.metrics.RecordRelay("web_to_thread", "ok")

	r.onCustomerReply(ctx, ticket)
	return nil
}

// OpenWebTicket originates a brand-new ticket from an unlinked web session.
func (r *Relay) OpenWebTicket(ctx context.Context, sessionID, displayName, text string) (*domain.Ticket, error) {
	identity := webIdentityPrefix + sessionID
	if displayName == "" {
		displayName = "Web visitor"
	}
	ticket, err := r.openTicket(ctx, identity, displayName, "", text)
	if err != nil {
		return nil, err
	}

	if _, err := r.client.SendMessage(ctx, platform.OutgoingMessage{
		ThreadID: ticket.ThreadID,
		Text:     formatCustomerLine(ticket, text),
	}); err != nil {
		r.recordMirrorFailure(ctx, ticket, "web_to_thread", err)
	} else {
		r.metrics.RecordRelay("web_to_thread", "ok")
	}
	return ticket, nil
}

// HandleEdit propagates an edit to the previously-mirrored counterpart
// message. Edits with no mapping (internal notes, messages predating
// mirroring) are dropped silently.
func (r *Relay) HandleEdit(ctx context.Context, origin domain.MessageOrigin, sourceMessageID int64, newText string) error {
	ref, err := r.refs.GetBySource(ctx, origin, sourceMessageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return util.NewUpstreamUnavailable("ticket store", err)
	}

	ticket, err := r.store.GetByID(ctx, ref.TicketID)
	if err != nil {
		return err
	}

	switch origin {
	case domain.OriginPrivate:
		// Counterpart lives in the thread.
		if err := r.client.EditMessage(ctx, 0, ticket.ThreadID, ref.MirroredMessageID, formatCustomerLine(ticket, newText)); err != nil {
			r.logger.Warn("edit propagation failed",
				zap.String("ticket_id", ticket.ID),
				zap.Int64("message_id", ref.MirroredMessageID),
				zap.Error(err))
		}
	case domain.OriginThread:
		// Counterpart is the customer-side copy.
		if chatID, ok := privateChatID(ticket); ok {
			if err := r.client.EditMessage(ctx, chatID, 0, ref.MirroredMessageID, newText); err != nil {
				r.logger.Warn("edit propagation failed",
					zap.String("ticket_id", ticket.ID),
					zap.Int64("message_id", ref.MirroredMessageID),
					zap.Error(err))
			}
		}
		r.push.PushMessage(ticket.ID, newText)
	}
	return nil
}

// ResolveByCustomer closes the ticket when the requesting identity owns it.
// Any other identity gets a "not your ticket" rejection and no state change.
func (r *Relay) ResolveByCustomer(ctx context.Context, ticketID, requestingIdentity string) error {
	ticket, err := r.store.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.ExternalID != requestingIdentity {
		return util.NewValidationError("not your ticket", map[string]any{"ticket_id": ticketID})
	}
	if !ticket.Open() {
		return nil
	}

	key := timer.Key{TicketID: ticket.ID, ThreadID: ticket.ThreadID}
	r.timers.CancelSLA(ctx, key)
	r.timers.CancelAutoClose(ctx, key)

	closed, err := r.store.ChangeStatus(ctx, ticket.ID, domain.TicketStatusClosed)
	if err != nil {
		return err
	}
	r.push.PushStatus(closed.ID, closed.Status)

	if _, err := r.client.SendMessage(ctx, platform.OutgoingMessage{
		ThreadID: closed.ThreadID,
		Text:     "Customer marked the ticket as resolved.",
	}); err != nil {
		r.logger.Warn("resolve notice failed", zap.String("ticket_id", closed.ID), zap.Error(err))
	}
	return nil
}

// TicketIdentity returns the external identity a ticket is bound to. The
// gateway uses it to act on behalf of a session whose binding already
// authorized it.
func (r *Relay) TicketIdentity(ctx context.Context, ticketID string) (string, error) {
	ticket, err := r.store.GetByID(ctx, ticketID)
	if err != nil {
		return "", err
	}
	return ticket.ExternalID, nil
}

// NotifyTyping relays a typing signal from a web session into nothing (the
// platform offers no thread-side typing), and from the thread side to the
// open sockets.
func (r *Relay) NotifyTyping(ticketID string) {
	r.push.PushTyping(ticketID)
}

// greet answers the conversation-start command without opening a ticket;
// the ticket opens on the first real message. The recorded onboarding step
// keeps repeat /start taps from re-sending the full greeting.
func (r *Relay) greet(ctx context.Context, identity string, chatID int64) error {
	state, err := r.contexts.GetOnboardingState(ctx, identity)
	if err != nil {
		r.logger.Warn("onboarding state read failed", zap.String("identity", identity), zap.Error(err))
	}
	if state != nil && state.Step == contextstore.StepAwaitingQuestion {
		r.notifyPrivate(ctx, chatID, "Just send your question and we will take it from there.")
		return nil
	}
	if err := r.contexts.SetOnboardingStep(ctx, identity, contextstore.StepAwaitingQuestion); err != nil {
		r.logger.Warn("onboarding state write failed", zap.String("identity", identity), zap.Error(err))
	}
	r.notifyPrivate(ctx, chatID, "Hi! Describe your issue in one message and a support operator will pick it up.")
	return nil
}

func (r *Relay) openTicketFromPrivate(ctx context.Context, identity string, msg InboundMessage) error {
	ticket, err := r.openTicket(ctx, identity, msg.AuthorName, msg.AuthorHandle, msg.Text)
	if err != nil {
		r.notifyPrivate(ctx, msg.AuthorID, "Something went wrong, please try again in a moment.")
		return err
	}
	r.mirrorToThread(ctx, ticket, domain.OriginPrivate, msg, msg.AuthorID)
	return nil
}

// openTicket creates the thread, persists the ticket with its OPENED event,
// and arms the SLA timers. Thread creation precedes the write so the bound
// thread id is final at creation; a creation failure is fatal to the inbound
// event, while timer failures are best-effort.
func (r *Relay) openTicket(ctx context.Context, identity, displayName, handle, question string) (*domain.Ticket, error) {
	input := service.TicketCreateInput{
		ExternalID:  identity,
		DisplayName: displayName,
		Handle:      handle,
	}
	if question != "" {
		input.InitialQuestion = &question
	}
	if rc, err := r.contexts.GetRedirectContext(ctx, identity); err == nil && rc != nil {
		if rc.URL != "" {
			input.ReferrerURL = &rc.URL
		}
		if rc.City != "" {
			input.ReferrerCity = &rc.City
		}
	}

	threadID, err := r.client.CreateThread(ctx, threadTitle(displayName, handle))
	if err != nil {
		return nil, util.NewUpstreamUnavailable("platform", err)
	}
	input.ThreadID = threadID

	ticket, err := r.store.Create(ctx, input)
	if err != nil {
		// A concurrent first-contact may have won the unique constraint;
		// fall back to the ticket that exists.
		if util.IsConflict(err) {
			if existing, lookupErr := r.store.FindByIdentity(ctx, identity); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := r.timers.ScheduleSLA(ctx, timer.Key{TicketID: ticket.ID, ThreadID: ticket.ThreadID}); err != nil {
		r.logger.Warn("sla scheduling failed; continuing",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	if err := r.contexts.ClearOnboarding(ctx, identity); err != nil {
		r.logger.Warn("onboarding state clear failed", zap.String("identity", identity), zap.Error(err))
	}
	return ticket, nil
}

// mirrorToThread forwards a customer message into the bound thread and
// records the message-id mapping for later edits. Failures are non-fatal.
func (r *Relay) mirrorToThread(ctx context.Context, ticket *domain.Ticket, origin domain.MessageOrigin, msg InboundMessage, notifyChatID int64) {
	out := platform.OutgoingMessage{ThreadID: ticket.ThreadID}
	if msg.FileID != "" {
		out.FileID = msg.FileID
	} else {
		out.Text = formatCustomerLine(ticket, msg.Text)
	}

	sent, err := r.client.SendMessage(ctx, out)
	if err != nil {
		r.recordMirrorFailure(ctx, ticket, "private_to_thread", err)
		r.notifyPrivate(ctx, notifyChatID, "Your message was received; delivery to the support team is delayed.")
		return
	}
	r.metrics.RecordRelay("private_to_thread", "ok")

	if err := r.refs.Create(ctx, &domain.MessageRef{
		TicketID:          ticket.ID,
		Origin:            origin,
		SourceMessageID:   msg.MessageID,
		MirroredMessageID: sent.MessageID,
	}); err != nil {
		r.logger.Warn("message ref persist failed",
			zap.String("ticket_id", ticket.ID),
			zap.Int64("source_message_id", msg.MessageID),
			zap.Error(err))
	}
}

// forwardToCustomer delivers an operator reply to the customer channel(s):
// the platform DM when the ticket has one, and any open web sockets.
func (r *Relay) forwardToCustomer(ctx context.Context, ticket *domain.Ticket, msg InboundMessage) {
	if chatID, ok := privateChatID(ticket); ok {
		out := platform.OutgoingMessage{ChatID: chatID}
		if msg.FileID != "" {
			out.FileID = msg.FileID
		} else {
			out.Text = msg.Text
		}
		sent, err := r.client.SendMessage(ctx, out)
		if err != nil {
			r.recordMirrorFailure(ctx, ticket, "thread_to_private", err)
			if _, noticeErr := r.client.SendMessage(ctx, platform.OutgoingMessage{
				ThreadID: ticket.ThreadID,
				Text:     "Delivery to the customer failed; they will see this reply once reachable.",
			}); noticeErr != nil {
				r.logger.Warn("origin-side notice failed", zap.String("ticket_id", ticket.ID), zap.Error(noticeErr))
			}
		} else {
			r.metrics.RecordRelay("thread_to_private", "ok")
			if err := r.refs.Create(ctx, &domain.MessageRef{
				TicketID:          ticket.ID,
				Origin:            domain.OriginThread,
				SourceMessageID:   msg.MessageID,
				MirroredMessageID: sent.MessageID,
			}); err != nil {
				r.logger.Warn("message ref persist failed",
					zap.String("ticket_id", ticket.ID),
					zap.Int64("source_message_id", msg.MessageID),
					zap.Error(err))
			}
		}
	}
	r.push.PushMessage(ticket.ID, msg.Text)
}

// onOperatorReply moves the ticket into WAITING_CLIENT, disarms the SLA
// reminders, and arms auto-close. All timer work is best-effort.
func (r *Relay) onOperatorReply(ctx context.Context, ticket *domain.Ticket) {
	key := timer.Key{TicketID: ticket.ID, ThreadID: ticket.ThreadID}
	r.timers.CancelSLA(ctx, key)

	if ticket.Status == domain.TicketStatusNew {
		updated, err := r.store.ChangeStatus(ctx, ticket.ID, domain.TicketStatusInProgress)
		if err != nil {
			r.logger.Warn("status advance failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			return
		}
		ticket = updated
	}
	if ticket.Status == domain.TicketStatusInProgress {
		updated, err := r.store.ChangeStatus(ctx, ticket.ID, domain.TicketStatusWaitingClient)
		if err != nil {
			r.logger.Warn("status advance failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			return
		}
		ticket = updated
		r.push.PushStatus(ticket.ID, ticket.Status)
	}

	r.timers.CancelAutoClose(ctx, key)
	if err := r.timers.ScheduleAutoClose(ctx, key); err != nil {
		r.logger.Warn("auto-close scheduling failed; continuing",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

// onCustomerReply disarms auto-close and pulls the ticket back from
// WAITING_CLIENT. The pullback rearms the SLA reminders: the ticket is
// awaiting an operator again, same as at creation. A still-unanswered NEW
// ticket keeps its state and timers.
func (r *Relay) onCustomerReply(ctx context.Context, ticket *domain.Ticket) {
	key := timer.Key{TicketID: ticket.ID, ThreadID: ticket.ThreadID}
	r.timers.CancelAutoClose(ctx, key)

	if ticket.Status == domain.TicketStatusWaitingClient {
		updated, err := r.store.ChangeStatus(ctx, ticket.ID, domain.TicketStatusInProgress)
		if err != nil {
			r.logger.Warn("status advance failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			return
		}
		r.push.PushStatus(updated.ID, updated.Status)

		r.timers.CancelSLA(ctx, key)
		if err := r.timers.ScheduleSLA(ctx, key); err != nil {
			r.logger.Warn("sla rescheduling failed; continuing",
				zap.String("ticket_id", updated.ID), zap.Error(err))
		}
	}
}

func (r *Relay) recordMirrorFailure(ctx context.Context, ticket *domain.Ticket, direction string, err error) {
	r.metrics.RecordRelay(direction, "failed")
	r.logger.Error("mirror failed",
		zap.String("ticket_id", ticket.ID),
		zap.String("direction", direction),
		zap.Error(err))
	r.store.AppendNote(ctx, ticket.ID, domain.EventKindRelayFailed, direction+": "+err.Error())
}

// notifyPrivate sends a best-effort notice back to the origin chat.
func (r *Relay) notifyPrivate(ctx context.Context, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	if _, err := r.client.SendMessage(ctx, platform.OutgoingMessage{ChatID: chatID, Text: text}); err != nil {
		r.logger.Warn("origin notice failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// privateChatID extracts the platform DM chat for a ticket. Web-originated
// tickets have none.
func privateChatID(ticket *domain.Ticket) (int64, bool) {
	if strings.HasPrefix(ticket.ExternalID, webIdentityPrefix) {
		return 0, false
	}
	chatID, err := strconv.ParseInt(ticket.ExternalID, 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}

// preview truncates message bodies for log lines.
func preview(text string) string {
	const max = 64
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

func threadTitle(displayName, handle string) string {
	if handle != "" {
		return fmt.Sprintf("%s (@%s)", displayName, handle)
	}
	return displayName
}

func formatCustomerLine(ticket *domain.Ticket, text string) string {
	name := ticket.DisplayName
	if name == "" {
		name = ticket.ExternalID
	}
	return fmt.Sprintf("%s: %s", name, text)
}
