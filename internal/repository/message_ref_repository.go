package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

// MessageRefRepository persists source-to-mirror message id mappings.
type MessageRefRepository interface {
	Create(ctx context.Context, ref *domain.MessageRef) error
	GetBySource(ctx context.Context, origin domain.MessageOrigin, sourceMessageID int64) (*domain.MessageRef, error)
}

type messageRefRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRefRepository constructs repository.
func NewMessageRefRepository(pool *pgxpool.Pool) MessageRefRepository {
	return &messageRefRepository{pool: pool}
}

func (r *messageRefRepository) Create(ctx context.Context, ref *domain.MessageRef) error {
	const query = `
        INSERT INTO message_refs (ticket_id, origin, source_message_id, mirrored_message_id)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		ref.TicketID,
		ref.Origin,
		ref.SourceMessageID,
		ref.MirroredMessageID,
	).Scan(&ref.ID, &ref.CreatedAt)
}

func (r *messageRefRepository) GetBySource(ctx context.Context, origin domain.MessageOrigin, sourceMessageID int64) (*domain.MessageRef, error) {
	const query = `
        SELECT id, ticket_id, origin, source_message_id, mirrored_message_id, created_at
        FROM message_refs WHERE origin=$1 AND source_message_id=$2`
	var ref domain.MessageRef
	if err := r.pool.QueryRow(ctx, query, origin, sourceMessageID).Scan(
		&ref.ID,
		&ref.TicketID,
		&ref.Origin,
		&ref.SourceMessageID,
		&ref.MirroredMessageID,
		&ref.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &ref, nil
}
