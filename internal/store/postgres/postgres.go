// Package postgres is the PostgreSQL-backed Storer implementation, used for
// multi-instance clustered deployments (paired with internal/cluster).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/giquina/clawd-bot/internal/config"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "clawd_"
)

type Postgres struct {
	db   *sql.DB
	goqu *goqu.Database

	tableConversations exp.IdentifierExpression
	tableFacts          exp.IdentifierExpression
	tableTasks          exp.IdentifierExpression
	tableJobs           exp.IdentifierExpression
	tableChats          exp.IdentifierExpression
	tableConfirmations  exp.IdentifierExpression
	tableAudit          exp.IdentifierExpression
	tableCosts          exp.IdentifierExpression
	tableSecrets        exp.IdentifierExpression
	tableSecretAudits   exp.IdentifierExpression

	auditCap int
	costCap  int

	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StorePostgres, encKey []byte) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	if migrate.Schema == "" {
		migrate.Schema = cfg.Schema
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store postgres: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	if cfg.ConnMaxLifetime != nil {
		ConnMaxLifetime = *cfg.ConnMaxLifetime
	}
	if cfg.MaxIdleConns != nil {
		MaxIdleConns = *cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns != nil {
		MaxOpenConns = *cfg.MaxOpenConns
	}

	db.SetConnMaxLifetime(ConnMaxLifetime)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetMaxOpenConns(MaxOpenConns)

	slog.Info("connected to store postgres")

	dbGoqu := goqu.New("postgres", db)

	return &Postgres{
		db:                 db,
		goqu:               dbGoqu,
		tableConversations: goqu.T(tablePrefix + "conversations"),
		tableFacts:         goqu.T(tablePrefix + "facts"),
		tableTasks:         goqu.T(tablePrefix + "tasks"),
		tableJobs:          goqu.T(tablePrefix + "jobs"),
		tableChats:         goqu.T(tablePrefix + "chats"),
		tableConfirmations: goqu.T(tablePrefix + "confirmations"),
		tableAudit:         goqu.T(tablePrefix + "audit"),
		tableCosts:         goqu.T(tablePrefix + "costs"),
		tableSecrets:       goqu.T(tablePrefix + "secrets"),
		tableSecretAudits:  goqu.T(tablePrefix + "secret_audits"),
		auditCap:           500,
		costCap:            1000,
		encKey:             encKey,
	}, nil
}

func (p *Postgres) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			slog.Error("close store postgres connection", "error", err)
		}
	}
}

func (p *Postgres) currentKey() []byte {
	p.encKeyMu.RLock()
	defer p.encKeyMu.RUnlock()
	return p.encKey
}
