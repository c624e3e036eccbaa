package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/giquina/clawd-bot/internal/store"
)

func (s *SQLite) CreateConfirmation(ctx context.Context, p store.PendingConfirmation) error {
	query, _, err := s.goqu.Insert(s.tableConfirmations).Rows(
		goqu.Record{
			"token":      p.Token,
			"kind":       p.Kind,
			"payload":    string(p.Payload),
			"expires_at": p.ExpiresAt.Format(time.RFC3339Nano),
			"created_by": p.CreatedBy,
			"redeemed":   p.Redeemed,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create confirmation: %w", err)
	}

	return nil
}

func (s *SQLite) GetConfirmation(ctx context.Context, token string) (*store.PendingConfirmation, error) {
	query, _, err := s.goqu.From(s.tableConfirmations).
		Select("token", "kind", "payload", "expires_at", "created_by", "redeemed").
		Where(goqu.I("token").Eq(token)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	p, err := scanConfirmationRow(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get confirmation: %w", err)
	}

	return &p, nil
}

// RedeemConfirmation atomically flips redeemed=1 only if it was previously 0,
// returning nil (not an error) if the token is unknown or already redeemed.
func (s *SQLite) RedeemConfirmation(ctx context.Context, token string) (*store.PendingConfirmation, error) {
	query, _, err := s.goqu.Update(s.tableConfirmations).
		Set(goqu.Record{"redeemed": true}).
		Where(goqu.I("token").Eq(token), goqu.I("redeemed").Eq(false)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
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

	return s.GetConfirmation(ctx, token)
}

func (s *SQLite) DeleteExpiredConfirmations(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query, _, err := s.goqu.Delete(s.tableConfirmations).
		Where(goqu.I("expires_at").Lt(now)).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
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
	var p store.PendingConfirmation
	var expiresAt string

	if err := r.Scan(&p.Token, &p.Kind, &p.Payload, &expiresAt, &p.CreatedBy, &p.Redeemed); err != nil {
		return store.PendingConfirmation{}, err
	}
	p.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)

	return p, nil
}
