package sqlite3

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/giquina/clawd-bot/internal/store"
)

func (s *SQLite) UpsertFact(ctx context.Context, f store.Fact) (store.Fact, error) {
	now := time.Now().UTC()
	if f.Category == "" {
		f.Category = "general"
	}

	if f.ID == "" {
		f.ID = ulid.Make().String()
		f.CreatedAt = now
		f.UpdatedAt = now

		query, _, err := s.goqu.Insert(s.tableFacts).Rows(
			goqu.Record{
				"id":         f.ID,
				"user_id":    f.UserID,
				"category":   f.Category,
				"fact":       f.Fact,
				"source":     f.Source,
				"created_at": f.CreatedAt.Format(time.RFC3339Nano),
				"updated_at": f.UpdatedAt.Format(time.RFC3339Nano),
			},
		).ToSQL()
		if err != nil {
			return store.Fact{}, fmt.Errorf("build insert query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return store.Fact{}, fmt.Errorf("insert fact: %w", err)
		}

		return f, nil
	}

	f.UpdatedAt = now
	query, _, err := s.goqu.Update(s.tableFacts).Set(
		goqu.Record{
			"category":   f.Category,
			"fact":       f.Fact,
			"source":     f.Source,
			"updated_at": f.UpdatedAt.Format(time.RFC3339Nano),
		},
	).Where(goqu.I("id").Eq(f.ID)).ToSQL()
	if err != nil {
		return store.Fact{}, fmt.Errorf("build update query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return store.Fact{}, fmt.Errorf("update fact: %w", err)
	}

	selQuery, _, err := s.goqu.From(s.tableFacts).
		Select("created_at").
		Where(goqu.I("id").Eq(f.ID)).ToSQL()
	if err != nil {
		return store.Fact{}, fmt.Errorf("build select query: %w", err)
	}
	var createdAt string
	if err := s.db.QueryRowContext(ctx, selQuery).Scan(&createdAt); err != nil {
		return store.Fact{}, fmt.Errorf("reload fact: %w", err)
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return f, nil
}

func (s *SQLite) ListFacts(ctx context.Context, userID, category string) ([]store.Fact, error) {
	sel := s.goqu.From(s.tableFacts).
		Select("id", "user_id", "category", "fact", "source", "created_at", "updated_at").
		Where(goqu.I("user_id").Eq(userID)).
		Order(goqu.I("updated_at").Desc())
	if category != "" {
		sel = sel.Where(goqu.I("category").Eq(category))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []store.Fact
	for rows.Next() {
		var f store.Fact
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Category, &f.Fact, &f.Source, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, f)
	}

	return out, rows.Err()
}

func (s *SQLite) DeleteFact(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableFacts).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}
