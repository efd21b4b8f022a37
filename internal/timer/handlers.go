package timer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/jobs"
	"github.com/spec-kit/support-relay/internal/platform"
	"github.com/spec-kit/support-relay/internal/service"
)

// StatusPusher delivers a status change to any web sessions bound to the
// ticket. Implemented by the connection manager.
type StatusPusher interface {
	PushStatus(ticketID string, status domain.TicketStatus)
}

// FireDeps bundles what the fire handlers need.
type FireDeps struct {
	Store    *service.TicketStore
	Platform platform.Client
	Push     StatusPusher
	Logger   *zap.Logger
}

var reminderText = map[Purpose]string{
	PurposeSLAFirst:      "Reminder: this ticket is still waiting for a first response.",
	PurposeSLASecond:     "Second reminder: this ticket has not been answered yet.",
	PurposeSLAEscalation: "Escalation: this ticket breached the response SLA.",
}

// BindHandlers registers the fixed per-purpose fire handlers on the job
// dispatcher. Every handler re-checks ticket status before acting: a late
// fire after cancellation, or against a ticket that already moved on, is a
// silent no-op.
func (r *Registry) BindHandlers(reg jobs.HandlerRegistry, deps FireDeps) {
	for _, purpose := range SLAPurposes {
		purpose := purpose
		reg.RegisterHandler(jobName(purpose), func(ctx context.Context, payload string) error {
			return r.fireReminder(ctx, deps, purpose, payload)
		})
	}
	reg.RegisterHandler(jobName(PurposeAutoClose), func(ctx context.Context, payload string) error {
		return r.fireAutoClose(ctx, deps, payload)
	})
}

func decodePayload(payload string) (*firePayload, error) {
	var fp firePayload
	if err := json.Unmarshal([]byte(payload), &fp); err != nil {
		return nil, fmt.Errorf("decode timer payload: %w", err)
	}
	return &fp, nil
}

func (r *Registry) fireReminder(ctx context.Context, deps FireDeps, purpose Purpose, payload string) error {
	fp, err := decodePayload(payload)
	if err != nil {
		return err
	}
	r.forget(fp.TicketID, purpose)

	ticket, err := deps.Store.GetByID(ctx, fp.TicketID)
	if err != nil {
		return err
	}
	// Reminders apply while the ticket awaits an operator: NEW before the
	// first response, IN_PROGRESS after a customer reply pulled it back.
	if ticket.Status != domain.TicketStatusNew && ticket.Status != domain.TicketStatusInProgress {
		deps.Logger.Debug("reminder fired after status moved on; ignoring",
			zap.String("ticket_id", ticket.ID),
			zap.String("purpose", string(purpose)),
			zap.String("status", string(ticket.Status)))
		return nil
	}

	if _, err := deps.Platform.SendMessage(ctx, platform.OutgoingMessage{
		ThreadID: ticket.ThreadID,
		Text:     reminderText[purpose],
	}); err != nil {
		deps.Logger.Warn("reminder notice failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil
	}
	deps.Store.AppendNote(ctx, ticket.ID, domain.EventKindSLAFired, string(purpose))
	return nil
}

func (r *Registry) fireAutoClose(ctx context.Context, deps FireDeps, payload string) error {
	fp, err := decodePayload(payload)
	if err != nil {
		return err
	}
	r.forget(fp.TicketID, PurposeAutoClose)

	ticket, err := deps.Store.GetByID(ctx, fp.TicketID)
	if err != nil {
		return err
	}
	// Auto-close only applies while a customer reply is pending; firing on a
	// ticket that already closed, or that the customer answered, is a no-op.
	if ticket.Status != domain.TicketStatusWaitingClient {
		deps.Logger.Debug("auto-close fired after status moved on; ignoring",
			zap.String("ticket_id", ticket.ID),
			zap.String("status", string(ticket.Status)))
		return nil
	}

	closed, err := deps.Store.ChangeStatus(ctx, ticket.ID, domain.TicketStatusClosed)
	if err != nil {
		return err
	}
	deps.Store.AppendNote(ctx, closed.ID, domain.EventKindAutoClosed, "closed after customer inactivity")

	if _, err := deps.Platform.SendMessage(ctx, platform.OutgoingMessage{
		ThreadID: closed.ThreadID,
		Text:     "Ticket auto-closed after prolonged customer inactivity.",
	}); err != nil {
		deps.Logger.Warn("auto-close notice failed", zap.String("ticket_id", closed.ID), zap.Error(err))
	}
	if deps.Push != nil {
		deps.Push.PushStatus(closed.ID, closed.Status)
	}
	return nil
}
