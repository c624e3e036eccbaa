package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/worldline-go/types"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) UpsertJob(ctx context.Context, j store.ScheduledJob) (store.ScheduledJob, error) {
	rec := goqu.Record{
		"cron_spec": j.CronSpec,
		"handler":   j.Handler,
		"params":    string(j.Params),
		"enabled":   j.Enabled,
		"next_run":  j.NextRun.Format(time.RFC3339Nano),
		"status":    string(j.Status),
		"user_id":   j.UserID,
		"chat_id":   j.ChatID,
	}
	if j.FireAt.Valid {
		rec["fire_at"] = j.FireAt.V.Time.Format(time.RFC3339Nano)
	}
	if j.LastRun.Valid {
		rec["last_run"] = j.LastRun.V.Time.Format(time.RFC3339Nano)
	}

	upsertRec := goqu.Record{"name": j.Name}
	for k, v := range rec {
		upsertRec[k] = v
	}

	query, _, err := p.goqu.Insert(p.tableJobs).
		Rows(upsertRec).
		OnConflict(goqu.DoUpdate("name", rec)).
		ToSQL()
	if err != nil {
		return store.ScheduledJob{}, fmt.Errorf("build upsert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return store.ScheduledJob{}, fmt.Errorf("upsert job %q: %w", j.Name, err)
	}

	return j, nil
}

func (p *Postgres) GetJobByName(ctx context.Context, name string) (*store.ScheduledJob, error) {
	query, _, err := p.goqu.From(p.tableJobs).
		Select("name", "cron_spec", "fire_at", "handler", "params", "enabled", "last_run", "next_run", "status", "user_id", "chat_id").
		Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	j, err := scanJobRow(p.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", name, err)
	}

	return &j, nil
}

func (p *Postgres) ListJobsByUser(ctx context.Context, userID string) ([]store.ScheduledJob, error) {
	query, _, err := p.goqu.From(p.tableJobs).
		Select("name", "cron_spec", "fire_at", "handler", "params", "enabled", "last_run", "next_run", "status", "user_id", "chat_id").
		Where(goqu.I("user_id").Eq(userID)).
		Order(goqu.I("next_run").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	return p.queryJobs(ctx, query)
}

func (p *Postgres) PendingJobs(ctx context.Context) ([]store.ScheduledJob, error) {
	query, _, err := p.goqu.From(p.tableJobs).
		Select("name", "cron_spec", "fire_at", "handler", "params", "enabled", "last_run", "next_run", "status", "user_id", "chat_id").
		Where(goqu.I("enabled").Eq(true), goqu.I("status").Eq(string(store.JobPending))).
		Order(goqu.I("next_run").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	return p.queryJobs(ctx, query)
}

func (p *Postgres) queryJobs(ctx context.Context, query string) ([]store.ScheduledJob, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduledJob
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}

	return out, rows.Err()
}

func scanJobRow(r rowScanner) (store.ScheduledJob, error) {
	var j store.ScheduledJob
	var fireAt, lastRun sql.NullString
	var nextRun, status string

	if err := r.Scan(&j.Name, &j.CronSpec, &fireAt, &j.Handler, &j.Params, &j.Enabled, &lastRun, &nextRun, &status, &j.UserID, &j.ChatID); err != nil {
		return store.ScheduledJob{}, err
	}

	j.Status = store.JobStatus(status)
	j.NextRun, _ = time.Parse(time.RFC3339Nano, nextRun)
	if fireAt.Valid {
		tm, _ := time.Parse(time.RFC3339Nano, fireAt.String)
		j.FireAt = types.NewTimeNull(tm)
	}
	if lastRun.Valid {
		tm, _ := time.Parse(time.RFC3339Nano, lastRun.String)
		j.LastRun = types.NewTimeNull(tm)
	}

	return j, nil
}

func (p *Postgres) DeleteJob(ctx context.Context, name string) error {
	query, _, err := p.goqu.Delete(p.tableJobs).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (p *Postgres) MarkJobFiring(ctx context.Context, name string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query, _, err := p.goqu.Update(p.tableJobs).
		Set(goqu.Record{"last_run": now}).
		Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("mark job firing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("job %q not found", name))
	}

	return nil
}

func (p *Postgres) MarkJobResult(ctx context.Context, name string, status store.JobStatus, nextRun *time.Time) error {
	rec := goqu.Record{"status": string(status)}
	if nextRun != nil {
		rec["next_run"] = nextRun.Format(time.RFC3339Nano)
	}

	query, _, err := p.goqu.Update(p.tableJobs).Set(rec).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("mark job result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("job %q not found", name))
	}

	return nil
}
