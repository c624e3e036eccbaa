package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) RegisterChat(ctx context.Context, r store.ChatRegistration) (store.ChatRegistration, error) {
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = time.Now().UTC()
	}
	if r.Notifications == "" {
		r.Notifications = store.NotifyAll
	}

	rec := goqu.Record{
		"chat_id":       r.ChatID,
		"type":          string(r.Type),
		"target":        r.Target,
		"notifications": string(r.Notifications),
		"platform":      r.Platform,
		"label":         r.Label,
		"registered_at": r.RegisteredAt.Format(time.RFC3339Nano),
		"registered_by": r.RegisteredBy,
	}

	query, _, err := p.goqu.Insert(p.tableChats).
		Rows(rec).
		OnConflict(goqu.DoUpdate("chat_id", rec)).
		ToSQL()
	if err != nil {
		return store.ChatRegistration{}, fmt.Errorf("build upsert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return store.ChatRegistration{}, fmt.Errorf("register chat: %w", err)
	}

	return r, nil
}

func (p *Postgres) GetChat(ctx context.Context, chatID string) (*store.ChatRegistration, error) {
	query, _, err := p.goqu.From(p.tableChats).
		Select("chat_id", "type", "target", "notifications", "platform", "label", "registered_at", "registered_by").
		Where(goqu.I("chat_id").Eq(chatID)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	r, err := scanChatRow(p.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %q: %w", chatID, err)
	}

	return &r, nil
}

func (p *Postgres) UnregisterChat(ctx context.Context, chatID string) error {
	query, _, err := p.goqu.Delete(p.tableChats).Where(goqu.I("chat_id").Eq(chatID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("unregister chat: %w", err)
	}
	return nil
}

func (p *Postgres) ListChats(ctx context.Context) ([]store.ChatRegistration, error) {
	query, _, err := p.goqu.From(p.tableChats).
		Select("chat_id", "type", "target", "notifications", "platform", "label", "registered_at", "registered_by").
		Order(goqu.I("chat_id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []store.ChatRegistration
	for rows.Next() {
		r, err := scanChatRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (p *Postgres) SetNotificationLevel(ctx context.Context, chatID string, level store.NotificationLevel) error {
	query, _, err := p.goqu.Update(p.tableChats).
		Set(goqu.Record{"notifications": string(level)}).
		Where(goqu.I("chat_id").Eq(chatID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("set notification level: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("chat %q not registered", chatID))
	}

	return nil
}

func scanChatRow(r rowScanner) (store.ChatRegistration, error) {
	var reg store.ChatRegistration
	var typ, notifications, registeredAt string

	if err := r.Scan(&reg.ChatID, &typ, &reg.Target, &notifications, &reg.Platform, &reg.Label, &registeredAt, &reg.RegisteredBy); err != nil {
		return store.ChatRegistration{}, err
	}

	reg.Type = store.ChatType(typ)
	reg.Notifications = store.NotificationLevel(notifications)
	reg.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)

	return reg, nil
}
