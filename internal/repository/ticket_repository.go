package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// CreateWithOpenEvent inserts the ticket and its OPENED audit entry in a
	// single transaction; either both persist or neither does.
	CreateWithOpenEvent(ctx context.Context, ticket *domain.Ticket, event *domain.TicketEvent) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetOpenByExternalID returns the single non-CLOSED ticket bound to the
	// identity, or pgx.ErrNoRows.
	GetOpenByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error)
	GetByThreadID(ctx context.Context, threadID int64) (*domain.Ticket, error)
	UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_id, display_name, handle, status, thread_id, referrer_url, referrer_city, created_at`

func (r *ticketRepository) CreateWithOpenEvent(ctx context.Context, ticket *domain.Ticket, event *domain.TicketEvent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertTicket = `
        INSERT INTO tickets (external_id, display_name, handle, status, thread_id, referrer_url, referrer_city)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertTicket,
		ticket.ExternalID,
		ticket.DisplayName,
		ticket.Handle,
		ticket.Status,
		ticket.ThreadID,
		ticket.ReferrerURL,
		ticket.ReferrerCity,
	).Scan(&ticket.ID, &ticket.CreatedAt); err != nil {
		return err
	}

	event.TicketID = ticket.ID
	const insertEvent = `
        INSERT INTO ticket_events (ticket_id, kind, old_value, new_value, payload, attribution)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertEvent,
		event.TicketID,
		event.Kind,
		event.OldValue,
		event.NewValue,
		event.Payload,
		event.Attribution,
	).Scan(&event.ID, &event.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetOpenByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE external_id=$1 AND status <> 'CLOSED'`
	return r.fetchSingle(ctx, query, externalID)
}

func (r *ticketRepository) GetByThreadID(ctx context.Context, threadID int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE thread_id=$1`
	return r.fetchSingle(ctx, query, threadID)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	const query = `UPDATE tickets SET status=$1 WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ID,
		&ticket.ExternalID,
		&ticket.DisplayName,
		&ticket.Handle,
		&ticket.Status,
		&ticket.ThreadID,
		&ticket.ReferrerURL,
		&ticket.ReferrerCity,
		&ticket.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
