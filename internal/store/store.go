package store

import (
	"context"
	"fmt"
	"time"

	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/crypto"
	"github.com/giquina/clawd-bot/internal/store/memory"
	"github.com/giquina/clawd-bot/internal/store/postgres"
	"github.com/giquina/clawd-bot/internal/store/sqlite3"
)

// ConversationStorer persists ConversationEntry rows.
type ConversationStorer interface {
	AppendConversation(ctx context.Context, e ConversationEntry) (ConversationEntry, error)
	RecentConversations(ctx context.Context, userID string, n int) ([]ConversationEntry, error)
	PruneConversations(ctx context.Context, userID string, keep int) error
}

// FactStorer persists Fact rows; UpdatedAt is always bumped by the store.
type FactStorer interface {
	UpsertFact(ctx context.Context, f Fact) (Fact, error)
	ListFacts(ctx context.Context, userID, category string) ([]Fact, error)
	DeleteFact(ctx context.Context, id string) error
}

// TaskStorer persists Task rows, enforcing the completed<->CompletedAt invariant.
type TaskStorer interface {
	CreateTask(ctx context.Context, t Task) (Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) (Task, error)
	ListTasks(ctx context.Context, userID string, status TaskStatus) ([]Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
}

// ScheduledJobStorer persists ScheduledJob rows and their due-instant queries.
type ScheduledJobStorer interface {
	UpsertJob(ctx context.Context, j ScheduledJob) (ScheduledJob, error)
	GetJobByName(ctx context.Context, name string) (*ScheduledJob, error)
	ListJobsByUser(ctx context.Context, userID string) ([]ScheduledJob, error)
	PendingJobs(ctx context.Context) ([]ScheduledJob, error)
	DeleteJob(ctx context.Context, name string) error
	// MarkJobFiring durably records a job's LastRun before handler
	// dispatch — the crash-safety boundary spec.md §4.6 requires. It does
	// not change Status.
	MarkJobFiring(ctx context.Context, name string) error
	// MarkJobResult records the outcome of a fire and, when nextRun is not
	// nil, stores it as NextRun. nextRun is nil when the job has no further
	// occurrence (one-shot done, cancelled, or failed permanently); NextRun
	// is then left as it was.
	MarkJobResult(ctx context.Context, name string, status JobStatus, nextRun *time.Time) error
}

// ChatRegistrationStorer persists ChatRegistration rows.
type ChatRegistrationStorer interface {
	RegisterChat(ctx context.Context, r ChatRegistration) (ChatRegistration, error)
	GetChat(ctx context.Context, chatID string) (*ChatRegistration, error)
	UnregisterChat(ctx context.Context, chatID string) error
	ListChats(ctx context.Context) ([]ChatRegistration, error)
	SetNotificationLevel(ctx context.Context, chatID string, level NotificationLevel) error
}

// ConfirmationStorer persists PendingConfirmation rows.
type ConfirmationStorer interface {
	CreateConfirmation(ctx context.Context, p PendingConfirmation) error
	GetConfirmation(ctx context.Context, token string) (*PendingConfirmation, error)
	RedeemConfirmation(ctx context.Context, token string) (*PendingConfirmation, error)
	DeleteExpiredConfirmations(ctx context.Context) (int, error)
}

// AuditStorer appends to the bounded audit ring.
type AuditStorer interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)
}

// CostStorer appends to the bounded cost ring.
type CostStorer interface {
	AppendCost(ctx context.Context, e CostEntry) error
	AllCosts(ctx context.Context) ([]CostEntry, error)
}

// SecretStorer persists Secret rows and their audit trail.
type SecretStorer interface {
	PutSecret(ctx context.Context, s Secret) error
	GetSecret(ctx context.Context, name string) (*Secret, error)
	DeleteSecret(ctx context.Context, name string) error
	ListSecretNames(ctx context.Context) ([]string, error)
	AppendSecretAudit(ctx context.Context, a SecretAudit) error
}

// Storer is the full aggregate contract (spec.md §4.1's "typed persistent
// collections"). Every backend implements all of it.
type Storer interface {
	ConversationStorer
	FactStorer
	TaskStorer
	ScheduledJobStorer
	ChatRegistrationStorer
	ConfirmationStorer
	AuditStorer
	CostStorer
	SecretStorer

	// RotateEncryptionKey re-encrypts all Secret rows under newKey (nil
	// disables encryption going forward).
	RotateEncryptionKey(ctx context.Context, newKey []byte) error
	SetEncryptionKey(newKey []byte)

	Close()
}

// New constructs a Storer from the given configuration: sqlite3 or postgres,
// whichever is configured (postgres takes precedence if both are set).
func New(ctx context.Context, cfg config.Store) (Storer, error) {
	var encKey []byte
	if cfg.EncryptionKey != "" {
		var err error
		encKey, err = crypto.DeriveKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("derive encryption key: %w", err)
		}
	}

	switch {
	case cfg.Postgres != nil:
		s, err := postgres.New(ctx, cfg.Postgres, encKey)
		if err != nil {
			return nil, fmt.Errorf("new postgres store: %w", err)
		}
		return s, nil
	case cfg.SQLite != nil:
		s, err := sqlite3.New(ctx, cfg.SQLite, encKey)
		if err != nil {
			return nil, fmt.Errorf("new sqlite store: %w", err)
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}
