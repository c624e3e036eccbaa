// Package store defines the kernel's persistent entity types (spec.md §3)
// and the Storer contract every backend (sqlite3, postgres, memory)
// implements.
package store

import (
	"time"

	"github.com/worldline-go/types"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationEntry is append-only; pruning is by age, never id reuse.
type ConversationEntry struct {
	ID        int64
	UserID    string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Fact's UpdatedAt is bumped on any mutation by the owning store's trigger
// equivalent (never set directly by callers).
type Fact struct {
	ID        string
	UserID    string
	Category  string
	Fact      string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Task's CompletedAt is set exactly when Status transitions to/from
// TaskCompleted — enforced by the store, not by callers.
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     types.Null[types.Time]
	CreatedAt   time.Time
	CompletedAt types.Null[types.Time]
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// ScheduledJob holds exactly one of {CronSpec, FireAt} populated — enforced
// at Schedule() time, not by the zero value alone.
type ScheduledJob struct {
	Name      string
	CronSpec  string
	FireAt    types.Null[types.Time]
	Handler   string
	Params    []byte // opaque JSON
	Enabled   bool
	LastRun   types.Null[types.Time]
	NextRun   time.Time
	Status    JobStatus
	UserID    string
	ChatID    string
}

type ChatType string

const (
	ChatRepo    ChatType = "repo"
	ChatCompany ChatType = "company"
	ChatHQ      ChatType = "hq"
)

type NotificationLevel string

const (
	NotifyAll      NotificationLevel = "all"
	NotifyCritical NotificationLevel = "critical"
	NotifyDigest   NotificationLevel = "digest"
)

// ChatRegistration has at most one row per ChatID; Target is required iff
// Type is ChatRepo or ChatCompany.
type ChatRegistration struct {
	ChatID        string
	Type          ChatType
	Target        string
	Notifications NotificationLevel
	Platform      string
	Label         string
	RegisteredAt  time.Time
	RegisteredBy  string
}

// PendingConfirmation is redeem-once; lookup by Token only.
type PendingConfirmation struct {
	Token     string
	Kind      string
	Payload   []byte // opaque JSON
	ExpiresAt time.Time
	CreatedBy string
	Redeemed  bool
}

type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
)

// AuditEntry is append-only, ring-bounded (≥100 entries).
type AuditEntry struct {
	Timestamp time.Time
	Action    string
	Target    string
	Status    AuditStatus
	From      string
	Extra     map[string]string
}

// CostEntry is ring-buffered with a fixed cap (default 1000).
type CostEntry struct {
	Timestamp        time.Time
	Provider         string
	Model            string
	InputTokens      int
	OutputTokens     int
	EstimatedCost    float64
	TaskType         string
}

// Secret's EncryptedValue holds the plaintext when passed to PutSecret and
// when returned by GetSecret; the store encrypts it with internal/crypto
// before writing and decrypts it after reading, so only the stored row
// holds ciphertext.
type Secret struct {
	Name            string
	EncryptedValue  string
	EncryptionKeyID string
	OwnerUserID     string
	UpdatedAt       time.Time
}

type SecretAudit struct {
	Timestamp time.Time
	Name      string
	Action    string // "read", "write", "delete"
	Actor     string
}
