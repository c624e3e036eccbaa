// Package secretstore implements the SecretStoreAdapter (spec.md §4.10): a
// thin facade over store.SecretStorer that guarantees every read, write, and
// delete is paired with a SecretAudit row, the same write-then-audit
// discipline the teacher applies to provider-config changes.
package secretstore

import (
	"context"
	"fmt"
	"time"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

type Adapter struct {
	store store.SecretStorer
}

func New(s store.SecretStorer) *Adapter {
	return &Adapter{store: s}
}

// Put stores or replaces a secret under name, attributing the write to actor.
func (a *Adapter) Put(ctx context.Context, name, value, actor string) error {
	if name == "" {
		return kernelerr.New(kernelerr.BadArgument, "secret name must not be empty")
	}
	if err := a.store.PutSecret(ctx, store.Secret{Name: name, EncryptedValue: value, OwnerUserID: actor}); err != nil {
		return fmt.Errorf("put secret %q: %w", name, err)
	}
	return a.audit(ctx, name, "write", actor)
}

// Get returns a secret's plaintext value, or kernelerr.NotFound if absent.
func (a *Adapter) Get(ctx context.Context, name, actor string) (string, error) {
	sec, err := a.store.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", name, err)
	}
	if sec == nil {
		return "", kernelerr.New(kernelerr.NotFound, fmt.Sprintf("secret %q not found", name))
	}
	if err := a.audit(ctx, name, "read", actor); err != nil {
		return "", err
	}
	return sec.EncryptedValue, nil
}

func (a *Adapter) Delete(ctx context.Context, name, actor string) error {
	if err := a.store.DeleteSecret(ctx, name); err != nil {
		return fmt.Errorf("delete secret %q: %w", name, err)
	}
	return a.audit(ctx, name, "delete", actor)
}

func (a *Adapter) List(ctx context.Context) ([]string, error) {
	names, err := a.store.ListSecretNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list secret names: %w", err)
	}
	return names, nil
}

func (a *Adapter) audit(ctx context.Context, name, action, actor string) error {
	if err := a.store.AppendSecretAudit(ctx, store.SecretAudit{
		Timestamp: time.Now().UTC(),
		Name:      name,
		Action:    action,
		Actor:     actor,
	}); err != nil {
		return fmt.Errorf("append secret audit for %q: %w", name, err)
	}
	return nil
}
