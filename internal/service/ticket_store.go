package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/pkg/util"
)

// TicketStore is the single writer of ticket status. Every other component
// reads tickets through it; only relay resolution paths and explicit operator
// actions mutate them.
type TicketStore struct {
	tickets repository.TicketRepository
	events  repository.TicketEventRepository
	logger  *zap.Logger
}

// TicketStoreDependencies bundles repositories for the store.
type TicketStoreDependencies struct {
	TicketRepo repository.TicketRepository
	EventRepo  repository.TicketEventRepository
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	ExternalID      string
	DisplayName     string
	Handle          string
	ThreadID        int64
	InitialQuestion *string
	ReferrerURL     *string
	ReferrerCity    *string
}

// NewTicketStore constructs the store.
func NewTicketStore(deps TicketStoreDependencies) *TicketStore {
	return &TicketStore{
		tickets: deps.TicketRepo,
		events:  deps.EventRepo,
		logger:  deps.Logger,
	}
}

// FindByIdentity returns the open ticket bound to the external identity, or
// nil when none exists.
func (s *TicketStore) FindByIdentity(ctx context.Context, externalID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetOpenByExternalID(ctx, externalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	return ticket, nil
}

// FindByThread returns the ticket bound to the thread, or nil when none
// exists.
func (s *TicketStore) FindByThread(ctx context.Context, threadID int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByThreadID(ctx, threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	return ticket, nil
}

// GetByID fetches a ticket, NOT_FOUND when missing.
func (s *TicketStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	if err != nil {
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	return ticket, nil
}

// Create opens a new ticket and its OPENED audit entry atomically. Returns
// CONFLICT when the identity already has an open ticket or the thread id is
// taken.
func (s *TicketStore) Create(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	ticket := &domain.Ticket{
		ExternalID:   input.ExternalID,
		DisplayName:  input.DisplayName,
		Handle:       input.Handle,
		Status:       domain.TicketStatusNew,
		ThreadID:     input.ThreadID,
		ReferrerURL:  input.ReferrerURL,
		ReferrerCity: input.ReferrerCity,
	}
	event := &domain.TicketEvent{
		Kind:        domain.EventKindOpened,
		Payload:     input.InitialQuestion,
		Attribution: input.ReferrerURL,
	}
	if err := s.tickets.CreateWithOpenEvent(ctx, ticket, event); err != nil {
		if util.IsConflict(err) {
			return nil, util.NewConflict("identity or thread already bound to a ticket", map[string]any{
				"external_id": input.ExternalID,
				"thread_id":   input.ThreadID,
			})
		}
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	s.logger.Info("ticket opened",
		zap.String("ticket_id", ticket.ID),
		zap.String("external_id", ticket.ExternalID),
		zap.Int64("thread_id", ticket.ThreadID))
	return ticket, nil
}

// ChangeStatus moves the ticket to newStatus and appends a STATUS_CHANGED
// audit entry. Calling with the current status is an idempotent no-op: the
// ticket is returned unchanged and nothing is appended. Closing an already
// CLOSED ticket is likewise a no-op; any other transition out of CLOSED is
// rejected.
func (s *TicketStore) ChangeStatus(ctx context.Context, ticketID string, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	ticket, err := s.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == newStatus {
		return ticket, nil
	}
	if !domain.ValidTransition(ticket.Status, newStatus) {
		return nil, util.NewValidationError("invalid status transition", map[string]any{
			"from": string(ticket.Status),
			"to":   string(newStatus),
		})
	}

	oldStatus := ticket.Status
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, newStatus); err != nil {
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	ticket.Status = newStatus

	oldVal := string(oldStatus)
	newVal := string(newStatus)
	if err := s.events.Append(ctx, &domain.TicketEvent{
		TicketID: ticket.ID,
		Kind:     domain.EventKindStatusChanged,
		OldValue: &oldVal,
		NewValue: &newVal,
	}); err != nil {
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	s.logger.Info("ticket status changed",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", oldVal),
		zap.String("to", newVal))
	return ticket, nil
}

// ListEvents returns the ticket's audit trail, newest first.
func (s *TicketStore) ListEvents(ctx context.Context, ticketID string, limit int) ([]domain.TicketEvent, error) {
	events, err := s.events.ListByTicket(ctx, ticketID, limit)
	if err != nil {
		return nil, util.NewUpstreamUnavailable("ticket store", err)
	}
	return events, nil
}

// AppendNote records an auxiliary audit entry (relay failure, SLA fire).
// Best-effort: failures are logged, never surfaced.
func (s *TicketStore) AppendNote(ctx context.Context, ticketID string, kind domain.TicketEventKind, payload string) {
	err := s.events.Append(ctx, &domain.TicketEvent{
		TicketID: ticketID,
		Kind:     kind,
		Payload:  &payload,
	})
	if err != nil {
		s.logger.Warn("audit note append failed",
			zap.String("ticket_id", ticketID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
