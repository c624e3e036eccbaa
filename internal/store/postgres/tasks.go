package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) CreateTask(ctx context.Context, t store.Task) (store.Task, error) {
	t.ID = ulid.Make().String()
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = store.TaskPending
	}
	if t.Priority == "" {
		t.Priority = store.PriorityMedium
	}
	if t.Status == store.TaskCompleted {
		t.CompletedAt = types.NewTimeNull(t.CreatedAt)
	}

	rec := goqu.Record{
		"id":          t.ID,
		"user_id":     t.UserID,
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"created_at":  t.CreatedAt.Format(time.RFC3339Nano),
	}
	if t.DueDate.Valid {
		rec["due_date"] = t.DueDate.V.Time.Format(time.RFC3339Nano)
	}
	if t.CompletedAt.Valid {
		rec["completed_at"] = t.CompletedAt.V.Time.Format(time.RFC3339Nano)
	}

	query, _, err := p.goqu.Insert(p.tableTasks).Rows(rec).ToSQL()
	if err != nil {
		return store.Task{}, fmt.Errorf("build insert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return store.Task{}, fmt.Errorf("create task: %w", err)
	}

	return t, nil
}

func (p *Postgres) UpdateTaskStatus(ctx context.Context, id string, status store.TaskStatus) (store.Task, error) {
	rec := goqu.Record{"status": string(status)}
	now := time.Now().UTC()
	if status == store.TaskCompleted {
		rec["completed_at"] = now.Format(time.RFC3339Nano)
	} else {
		rec["completed_at"] = nil
	}

	query, _, err := p.goqu.Update(p.tableTasks).Set(rec).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return store.Task{}, fmt.Errorf("build update query: %w", err)
	}
	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return store.Task{}, fmt.Errorf("update task status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Task{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.Task{}, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("task %q not found", id))
	}

	t, err := p.GetTask(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	return *t, nil
}

func (p *Postgres) ListTasks(ctx context.Context, userID string, status store.TaskStatus) ([]store.Task, error) {
	sel := p.goqu.From(p.tableTasks).
		Select("id", "user_id", "title", "description", "status", "priority", "due_date", "created_at", "completed_at").
		Where(goqu.I("user_id").Eq(userID)).
		Order(goqu.I("created_at").Desc())
	if status != "" {
		sel = sel.Where(goqu.I("status").Eq(string(status)))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

func (p *Postgres) GetTask(ctx context.Context, id string) (*store.Task, error) {
	query, _, err := p.goqu.From(p.tableTasks).
		Select("id", "user_id", "title", "description", "status", "priority", "due_date", "created_at", "completed_at").
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	row := p.db.QueryRowContext(ctx, query)
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %q: %w", id, err)
	}

	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (store.Task, error) {
	return scanTaskRow(r)
}

func scanTaskRow(r rowScanner) (store.Task, error) {
	var t store.Task
	var status, priority, createdAt string
	var dueDate, completedAt sql.NullString

	if err := r.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &status, &priority, &dueDate, &createdAt, &completedAt); err != nil {
		return store.Task{}, err
	}

	t.Status = store.TaskStatus(status)
	t.Priority = store.TaskPriority(priority)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if dueDate.Valid {
		tm, _ := time.Parse(time.RFC3339Nano, dueDate.String)
		t.DueDate = types.NewTimeNull(tm)
	}
	if completedAt.Valid {
		tm, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		t.CompletedAt = types.NewTimeNull(tm)
	}

	return t, nil
}
