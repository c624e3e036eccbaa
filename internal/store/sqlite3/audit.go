package sqlite3

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/giquina/clawd-bot/internal/store"
)

func (s *SQLite) AppendAudit(ctx context.Context, e store.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	extra, err := json.Marshal(e.Extra)
	if err != nil {
		return fmt.Errorf("marshal audit extra: %w", err)
	}

	query, _, err := s.goqu.Insert(s.tableAudit).Rows(
		goqu.Record{
			"ts":         e.Timestamp.Format(time.RFC3339Nano),
			"action":     e.Action,
			"target":     e.Target,
			"status":     string(e.Status),
			"from_actor": e.From,
			"extra":      string(extra),
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	return s.trimAuditRing(ctx)
}

// trimAuditRing deletes the oldest rows beyond auditCap, since SQLite has no
// native ring buffer; this keeps the bounded-memory guarantee at the storage
// layer rather than only in the in-memory cache.
func (s *SQLite) trimAuditRing(ctx context.Context) error {
	sub, _, err := s.goqu.From(s.tableAudit).
		Select("id").
		Order(goqu.I("id").Desc()).
		Limit(uint(s.auditCap)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build subquery: %w", err)
	}

	query, _, err := s.goqu.Delete(s.tableAudit).
		Where(goqu.L("id NOT IN (" + sub + ")")).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("trim audit ring: %w", err)
	}

	return nil
}

func (s *SQLite) RecentAudit(ctx context.Context, n int) ([]store.AuditEntry, error) {
	sel := s.goqu.From(s.tableAudit).
		Select("ts", "action", "target", "status", "from_actor", "extra").
		Order(goqu.I("id").Desc())
	if n > 0 {
		sel = sel.Limit(uint(n))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var ts, status, extra string
		if err := rows.Scan(&ts, &e.Action, &e.Target, &status, &e.From, &extra); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Status = store.AuditStatus(status)
		_ = json.Unmarshal([]byte(extra), &e.Extra)
		out = append(out, e)
	}

	return out, rows.Err()
}
