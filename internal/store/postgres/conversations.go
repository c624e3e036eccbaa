package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) AppendConversation(ctx context.Context, e store.ConversationEntry) (store.ConversationEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query, _, err := p.goqu.Insert(p.tableConversations).Rows(
		goqu.Record{
			"user_id":    e.UserID,
			"role":       string(e.Role),
			"content":    e.Content,
			"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		},
	).Returning("id").ToSQL()
	if err != nil {
		return store.ConversationEntry{}, fmt.Errorf("build insert query: %w", err)
	}

	if err := p.db.QueryRowContext(ctx, query).Scan(&e.ID); err != nil {
		return store.ConversationEntry{}, fmt.Errorf("append conversation: %w", err)
	}

	return e, nil
}

func (p *Postgres) RecentConversations(ctx context.Context, userID string, n int) ([]store.ConversationEntry, error) {
	sel := p.goqu.From(p.tableConversations).
		Select("id", "user_id", "role", "content", "created_at").
		Where(goqu.I("user_id").Eq(userID)).
		Order(goqu.I("id").Desc())
	if n > 0 {
		sel = sel.Limit(uint(n))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationEntry
	for rows.Next() {
		var e store.ConversationEntry
		var role, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &role, &e.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		e.Role = store.Role(role)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}

	// Rows came back newest-first; reverse to oldest-first for callers.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, rows.Err()
}

func (p *Postgres) PruneConversations(ctx context.Context, userID string, keep int) error {
	sub, _, err := p.goqu.From(p.tableConversations).
		Select("id").
		Where(goqu.I("user_id").Eq(userID)).
		Order(goqu.I("id").Desc()).
		Limit(uint(keep)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build subquery: %w", err)
	}

	query, _, err := p.goqu.Delete(p.tableConversations).
		Where(
			goqu.I("user_id").Eq(userID),
			goqu.L("id NOT IN (" + sub + ")"),
		).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("prune conversations: %w", err)
	}

	return nil
}
