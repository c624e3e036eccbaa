package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) AppendCost(ctx context.Context, e store.CostEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query, _, err := p.goqu.Insert(p.tableCosts).Rows(
		goqu.Record{
			"ts":             e.Timestamp.Format(time.RFC3339Nano),
			"provider":       e.Provider,
			"model":          e.Model,
			"input_tokens":   e.InputTokens,
			"output_tokens":  e.OutputTokens,
			"estimated_cost": e.EstimatedCost,
			"task_type":      e.TaskType,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append cost: %w", err)
	}

	return p.trimCostRing(ctx)
}

func (p *Postgres) trimCostRing(ctx context.Context) error {
	sub, _, err := p.goqu.From(p.tableCosts).
		Select("id").
		Order(goqu.I("id").Desc()).
		Limit(uint(p.costCap)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build subquery: %w", err)
	}

	query, _, err := p.goqu.Delete(p.tableCosts).
		Where(goqu.L("id NOT IN (" + sub + ")")).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("trim cost ring: %w", err)
	}

	return nil
}

func (p *Postgres) AllCosts(ctx context.Context) ([]store.CostEntry, error) {
	query, _, err := p.goqu.From(p.tableCosts).
		Select("ts", "provider", "model", "input_tokens", "output_tokens", "estimated_cost", "task_type").
		Order(goqu.I("id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("all costs: %w", err)
	}
	defer rows.Close()

	var out []store.CostEntry
	for rows.Next() {
		var e store.CostEntry
		var ts string
		if err := rows.Scan(&ts, &e.Provider, &e.Model, &e.InputTokens, &e.OutputTokens, &e.EstimatedCost, &e.TaskType); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}

	return out, rows.Err()
}
