package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) CreateConfirmation(ctx context.Context, c store.PendingConfirmation) error {
	query, _, err := p.goqu.Insert(p.tableConfirmations).Rows(
		goqu.Record{
			"token":      c.Token,
			"kind":       c.Kind,
			"payload":    string(c.Payload),
			"expires_at": c.ExpiresAt.Format(time.RFC3339Nano),
			"created_by": c.CreatedBy,
			"redeemed":   c.Redeemed,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create confirmation: %w", err)
	}

	return nil
}

func (p *Postgres) GetConfirmation(ctx context.Context, token string) (*store.PendingConfirmation, error) {
	query, _, err := p.goqu.From(p.tableConfirmations).
		Select("token", "kind", "payload", "expires_at", "created_by", "redeemed").
		Where(goqu.I("token").Eq(token)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	c, err := scanConfirmationRow(p.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get confirmation: %w", err)
	}

	return &c, nil
}

// RedeemConfirmation atomically flips redeemed=true only if it was previously
// false, returning nil (not an error) if the token is unknown or already
// redeemed.
func (p *Postgres) RedeemConfirmation(ctx context.Context, token string) (*store.PendingConfirmation, error) {
	query, _, err := p.goqu.Update(p.tableConfirmations).
		Set(goqu.Record{"redeemed": true}).
		Where(goqu.I("token").Eq(token), goqu.I("redeemed").Eq(false)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("redeem confirmation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	return p.GetConfirmation(ctx, token)
}

func (p *Postgres) DeleteExpiredConfirmations(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query, _, err := p.goqu.Delete(p.tableConfirmations).
		Where(goqu.I("expires_at").Lt(now)).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete expired confirmations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(affected), nil
}

func scanConfirmationRow(r rowScanner) (store.PendingConfirmation, error) {
	var c store.PendingConfirmation
	var expiresAt string

	if err := r.Scan(&c.Token, &c.Kind, &c.Payload, &expiresAt, &c.CreatedBy, &c.Redeemed); err != nil {
		return store.PendingConfirmation{}, err
	}
	c.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)

	return c, nil
}
