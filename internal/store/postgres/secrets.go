package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/giquina/clawd-bot/internal/crypto"
	"github.com/giquina/clawd-bot/internal/store"
)

func (p *Postgres) PutSecret(ctx context.Context, sec store.Secret) error {
	enc, err := crypto.Encrypt(sec.EncryptedValue, p.currentKey())
	if err != nil {
		return fmt.Errorf("encrypt secret %q: %w", sec.Name, err)
	}
	sec.EncryptedValue = enc
	sec.UpdatedAt = time.Now().UTC()

	rec := goqu.Record{
		"name":              sec.Name,
		"encrypted_value":   sec.EncryptedValue,
		"encryption_key_id": sec.EncryptionKeyID,
		"owner_user_id":     sec.OwnerUserID,
		"updated_at":        sec.UpdatedAt.Format(time.RFC3339Nano),
	}

	query, _, err := p.goqu.Insert(p.tableSecrets).
		Rows(rec).
		OnConflict(goqu.DoUpdate("name", rec)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("put secret %q: %w", sec.Name, err)
	}

	return nil
}

func (p *Postgres) GetSecret(ctx context.Context, name string) (*store.Secret, error) {
	query, _, err := p.goqu.From(p.tableSecrets).
		Select("name", "encrypted_value", "encryption_key_id", "owner_user_id", "updated_at").
		Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var sec store.Secret
	var updatedAt string
	err = p.db.QueryRowContext(ctx, query).Scan(&sec.Name, &sec.EncryptedValue, &sec.EncryptionKeyID, &sec.OwnerUserID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", name, err)
	}
	sec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	dec, err := crypto.Decrypt(sec.EncryptedValue, p.currentKey())
	if err != nil {
		return nil, fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	sec.EncryptedValue = dec

	return &sec, nil
}

func (p *Postgres) DeleteSecret(ctx context.Context, name string) error {
	query, _, err := p.goqu.Delete(p.tableSecrets).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

func (p *Postgres) ListSecretNames(ctx context.Context) ([]string, error) {
	query, _, err := p.goqu.From(p.tableSecrets).
		Select("name").
		Order(goqu.I("name").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list secret names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan secret name: %w", err)
		}
		out = append(out, name)
	}

	return out, rows.Err()
}

func (p *Postgres) AppendSecretAudit(ctx context.Context, a store.SecretAudit) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	query, _, err := p.goqu.Insert(p.tableSecretAudits).Rows(
		goqu.Record{
			"ts":     a.Timestamp.Format(time.RFC3339Nano),
			"name":   a.Name,
			"action": a.Action,
			"actor":  a.Actor,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append secret audit: %w", err)
	}

	return nil
}

// RotateEncryptionKey decrypts all secrets with the current key, re-encrypts
// with newKey, and commits atomically, row-locking the secrets table for the
// duration of the transaction so a concurrent PutSecret cannot race the swap.
func (p *Postgres) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	p.encKeyMu.Lock()
	defer p.encKeyMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	selQuery, _, err := p.goqu.From(p.tableSecrets).
		Select("name", "encrypted_value").
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selQuery)
	if err != nil {
		return fmt.Errorf("list secrets for rotation: %w", err)
	}

	type rowData struct{ name, value string }
	var all []rowData
	for rows.Next() {
		var r rowData
		if err := rows.Scan(&r.name, &r.value); err != nil {
			rows.Close()
			return fmt.Errorf("scan secret row: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate secret rows: %w", err)
	}

	for _, r := range all {
		plain, err := crypto.Decrypt(r.value, p.encKey)
		if err != nil {
			return fmt.Errorf("decrypt secret %q: %w", r.name, err)
		}
		enc, err := crypto.Encrypt(plain, newKey)
		if err != nil {
			return fmt.Errorf("re-encrypt secret %q: %w", r.name, err)
		}

		updateQuery, _, err := p.goqu.Update(p.tableSecrets).
			Set(goqu.Record{"encrypted_value": enc}).
			Where(goqu.I("name").Eq(r.name)).ToSQL()
		if err != nil {
			return fmt.Errorf("build update query for %q: %w", r.name, err)
		}
		if _, err := tx.ExecContext(ctx, updateQuery); err != nil {
			return fmt.Errorf("update secret %q: %w", r.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	p.encKey = newKey
	return nil
}

func (p *Postgres) SetEncryptionKey(newKey []byte) {
	p.encKeyMu.Lock()
	p.encKey = newKey
	p.encKeyMu.Unlock()
}
