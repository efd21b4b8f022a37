package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

// LinkTokenRepository manages single-use web link tokens.
type LinkTokenRepository interface {
	Create(ctx context.Context, token *domain.WebLinkToken) error
	// FindValidByToken returns the token only while it is unconsumed and
	// unexpired; otherwise pgx.ErrNoRows.
	FindValidByToken(ctx context.Context, token string) (*domain.WebLinkToken, error)
	// MarkUsed consumes the token. pgx.ErrNoRows when another consumer got
	// there first; the conditional update is the single-use arbiter.
	MarkUsed(ctx context.Context, id string) error
}

type linkTokenRepository struct {
	pool *pgxpool.Pool
}

// NewLinkTokenRepository constructs repository.
func NewLinkTokenRepository(pool *pgxpool.Pool) LinkTokenRepository {
	return &linkTokenRepository{pool: pool}
}

func (r *linkTokenRepository) Create(ctx context.Context, token *domain.WebLinkToken) error {
	const query = `
        INSERT INTO link_tokens (ticket_id, token, expires_at)
        VALUES ($1,$2,$3)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		token.TicketID,
		token.Token,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

func (r *linkTokenRepository) FindValidByToken(ctx context.Context, tokenStr string) (*domain.WebLinkToken, error) {
	const query = `
        SELECT id, ticket_id, token, expires_at, used_at, created_at
        FROM link_tokens WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()`
	var token domain.WebLinkToken
	if err := r.pool.QueryRow(ctx, query, tokenStr).Scan(
		&token.ID,
		&token.TicketID,
		&token.Token,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *linkTokenRepository) MarkUsed(ctx context.Context, id string) error {
	const query = `UPDATE link_tokens SET used_at=NOW() WHERE id=$1 AND used_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
