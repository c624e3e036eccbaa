// Package sqlite3 is the SQLite-backed Storer implementation, used for
// single-instance deployments. It serializes all writes through a single
// connection (SQLite's own concurrency model) and runs in WAL mode.
package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "modernc.org/sqlite"

	"github.com/giquina/clawd-bot/internal/config"
)

var DefaultTablePrefix = "clawd_"

type SQLite struct {
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

func New(ctx context.Context, cfg *config.StoreSQLite, encKey []byte) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
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
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:                  db,
		goqu:                dbGoqu,
		tableConversations:  goqu.T(tablePrefix + "conversations"),
		tableFacts:          goqu.T(tablePrefix + "facts"),
		tableTasks:          goqu.T(tablePrefix + "tasks"),
		tableJobs:           goqu.T(tablePrefix + "jobs"),
		tableChats:          goqu.T(tablePrefix + "chats"),
		tableConfirmations:  goqu.T(tablePrefix + "confirmations"),
		tableAudit:          goqu.T(tablePrefix + "audit"),
		tableCosts:          goqu.T(tablePrefix + "costs"),
		tableSecrets:        goqu.T(tablePrefix + "secrets"),
		tableSecretAudits:   goqu.T(tablePrefix + "secret_audits"),
		auditCap:            500,
		costCap:             1000,
		encKey:              encKey,
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}

func (s *SQLite) currentKey() []byte {
	s.encKeyMu.RLock()
	defer s.encKeyMu.RUnlock()
	return s.encKey
}
