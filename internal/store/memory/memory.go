// Package memory is an in-memory Storer implementation. Data does not
// survive process restarts; it exists for tests and for local development
// without a configured database.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/giquina/clawd-bot/internal/crypto"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

type Memory struct {
	mu sync.RWMutex

	convSeq       atomic.Int64
	conversations map[string][]store.ConversationEntry // userID -> entries, oldest first

	facts         map[string]store.Fact // id -> fact
	tasks         map[string]store.Task // id -> task
	jobs          map[string]store.ScheduledJob
	chats         map[string]store.ChatRegistration
	confirmations map[string]store.PendingConfirmation

	audit     []store.AuditEntry
	auditCap  int
	costs     []store.CostEntry
	costCap   int

	secrets      map[string]store.Secret
	secretAudits []store.SecretAudit

	encKey   []byte
	encKeyMu sync.RWMutex
}

// New constructs an in-memory store with default ring caps (500 audit,
// 1000 cost), matching config.Store's defaults.
func New() *Memory {
	slog.Info("using in-memory store (data will not persist across restarts)")

	return &Memory{
		conversations: make(map[string][]store.ConversationEntry),
		facts:         make(map[string]store.Fact),
		tasks:         make(map[string]store.Task),
		jobs:          make(map[string]store.ScheduledJob),
		chats:         make(map[string]store.ChatRegistration),
		confirmations: make(map[string]store.PendingConfirmation),
		secrets:       make(map[string]store.Secret),
		auditCap:      500,
		costCap:       1000,
	}
}

func (m *Memory) Close() {}

// ─── Conversations ───

func (m *Memory) AppendConversation(_ context.Context, e store.ConversationEntry) (store.ConversationEntry, error) {
	e.ID = m.convSeq.Add(1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.conversations[e.UserID] = append(m.conversations[e.UserID], e)
	m.mu.Unlock()

	return e, nil
}

func (m *Memory) RecentConversations(_ context.Context, userID string, n int) ([]store.ConversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.conversations[userID]
	if n <= 0 || n >= len(all) {
		out := make([]store.ConversationEntry, len(all))
		copy(out, all)
		return out, nil
	}

	out := make([]store.ConversationEntry, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

func (m *Memory) PruneConversations(_ context.Context, userID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.conversations[userID]
	if len(all) <= keep {
		return nil
	}
	m.conversations[userID] = slices.Clone(all[len(all)-keep:])

	return nil
}

// ─── Facts ───

func (m *Memory) UpsertFact(_ context.Context, f store.Fact) (store.Fact, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		f.ID = ulid.Make().String()
		f.CreatedAt = now
		if f.Category == "" {
			f.Category = "general"
		}
	} else if existing, ok := m.facts[f.ID]; ok {
		f.CreatedAt = existing.CreatedAt
	}
	f.UpdatedAt = now

	m.facts[f.ID] = f
	return f, nil
}

func (m *Memory) ListFacts(_ context.Context, userID, category string) ([]store.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.Fact
	for _, f := range m.facts {
		if f.UserID != userID {
			continue
		}
		if category != "" && f.Category != category {
			continue
		}
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b store.Fact) int { return b.UpdatedAt.Compare(a.UpdatedAt) })

	return out, nil
}

func (m *Memory) DeleteFact(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.facts, id)
	m.mu.Unlock()
	return nil
}

// ─── Tasks ───

func (m *Memory) CreateTask(_ context.Context, t store.Task) (store.Task, error) {
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

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	return t, nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, id string, status store.TaskStatus) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return store.Task{}, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("task %q not found", id))
	}

	t.Status = status
	if status == store.TaskCompleted {
		t.CompletedAt = types.NewTimeNull(time.Now().UTC())
	} else {
		t.CompletedAt = types.Null[types.Time]{}
	}

	m.tasks[id] = t
	return t, nil
}

func (m *Memory) ListTasks(_ context.Context, userID string, status store.TaskStatus) ([]store.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b store.Task) int { return b.CreatedAt.Compare(a.CreatedAt) })

	return out, nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*store.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ─── Scheduled jobs ───

func (m *Memory) UpsertJob(_ context.Context, j store.ScheduledJob) (store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[j.Name] = j
	return j, nil
}

func (m *Memory) GetJobByName(_ context.Context, name string) (*store.ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[name]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *Memory) ListJobsByUser(_ context.Context, userID string) ([]store.ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.ScheduledJob
	for _, j := range m.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b store.ScheduledJob) int { return a.NextRun.Compare(b.NextRun) })

	return out, nil
}

func (m *Memory) PendingJobs(_ context.Context) ([]store.ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.ScheduledJob
	for _, j := range m.jobs {
		if j.Enabled && j.Status == store.JobPending {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b store.ScheduledJob) int { return a.NextRun.Compare(b.NextRun) })

	return out, nil
}

func (m *Memory) DeleteJob(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.jobs, name)
	m.mu.Unlock()
	return nil
}

func (m *Memory) MarkJobFiring(_ context.Context, name string) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[name]
	if !ok {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("job %q not found", name))
	}
	j.LastRun = types.NewTimeNull(now)
	m.jobs[name] = j

	return nil
}

func (m *Memory) MarkJobResult(_ context.Context, name string, status store.JobStatus, nextRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[name]
	if !ok {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("job %q not found", name))
	}
	j.Status = status
	if nextRun != nil {
		j.NextRun = *nextRun
	}
	m.jobs[name] = j

	return nil
}

// ─── Chat registrations ───

func (m *Memory) RegisterChat(_ context.Context, r store.ChatRegistration) (store.ChatRegistration, error) {
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = time.Now().UTC()
	}
	if r.Notifications == "" {
		r.Notifications = store.NotifyAll
	}

	m.mu.Lock()
	m.chats[r.ChatID] = r
	m.mu.Unlock()

	return r, nil
}

func (m *Memory) GetChat(_ context.Context, chatID string) (*store.ChatRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.chats[chatID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) UnregisterChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	delete(m.chats, chatID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListChats(_ context.Context) ([]store.ChatRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]store.ChatRegistration, 0, len(m.chats))
	for _, r := range m.chats {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b store.ChatRegistration) int {
		if a.ChatID < b.ChatID {
			return -1
		}
		if a.ChatID > b.ChatID {
			return 1
		}
		return 0
	})

	return out, nil
}

func (m *Memory) SetNotificationLevel(_ context.Context, chatID string, level store.NotificationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.chats[chatID]
	if !ok {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("chat %q not registered", chatID))
	}
	r.Notifications = level
	m.chats[chatID] = r

	return nil
}

// ─── Confirmations ───

func (m *Memory) CreateConfirmation(_ context.Context, p store.PendingConfirmation) error {
	m.mu.Lock()
	m.confirmations[p.Token] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetConfirmation(_ context.Context, token string) (*store.PendingConfirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.confirmations[token]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) RedeemConfirmation(_ context.Context, token string) (*store.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.confirmations[token]
	if !ok {
		return nil, nil
	}
	if p.Redeemed {
		return nil, nil
	}
	p.Redeemed = true
	m.confirmations[token] = p

	return &p, nil
}

func (m *Memory) DeleteExpiredConfirmations(_ context.Context) (int, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, p := range m.confirmations {
		if now.After(p.ExpiresAt) {
			delete(m.confirmations, token)
			n++
		}
	}

	return n, nil
}

// ─── Audit ring ───

func (m *Memory) AppendAudit(_ context.Context, e store.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, e)
	if len(m.audit) > m.auditCap {
		m.audit = m.audit[len(m.audit)-m.auditCap:]
	}

	return nil
}

func (m *Memory) RecentAudit(_ context.Context, n int) ([]store.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n >= len(m.audit) {
		out := make([]store.AuditEntry, len(m.audit))
		copy(out, m.audit)
		return out, nil
	}

	out := make([]store.AuditEntry, n)
	copy(out, m.audit[len(m.audit)-n:])
	return out, nil
}

// ─── Cost ring ───

func (m *Memory) AppendCost(_ context.Context, e store.CostEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.costs = append(m.costs, e)
	if len(m.costs) > m.costCap {
		m.costs = m.costs[len(m.costs)-m.costCap:]
	}

	return nil
}

func (m *Memory) AllCosts(_ context.Context) ([]store.CostEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]store.CostEntry, len(m.costs))
	copy(out, m.costs)
	return out, nil
}

// ─── Secrets ───

func (m *Memory) PutSecret(_ context.Context, s store.Secret) error {
	m.encKeyMu.RLock()
	key := m.encKey
	m.encKeyMu.RUnlock()

	enc, err := crypto.Encrypt(s.EncryptedValue, key)
	if err != nil {
		return fmt.Errorf("encrypt secret %q: %w", s.Name, err)
	}
	s.EncryptedValue = enc
	s.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	m.secrets[s.Name] = s
	m.mu.Unlock()

	return nil
}

func (m *Memory) GetSecret(_ context.Context, name string) (*store.Secret, error) {
	m.mu.RLock()
	s, ok := m.secrets[name]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	m.encKeyMu.RLock()
	key := m.encKey
	m.encKeyMu.RUnlock()

	dec, err := crypto.Decrypt(s.EncryptedValue, key)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	s.EncryptedValue = dec

	return &s, nil
}

func (m *Memory) DeleteSecret(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.secrets, name)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListSecretNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.secrets))
	for name := range m.secrets {
		out = append(out, name)
	}
	slices.Sort(out)

	return out, nil
}

func (m *Memory) AppendSecretAudit(_ context.Context, a store.SecretAudit) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	m.secretAudits = append(m.secretAudits, a)
	m.mu.Unlock()

	return nil
}

// ─── Encryption key rotation ───

func (m *Memory) RotateEncryptionKey(_ context.Context, newKey []byte) error {
	m.encKeyMu.Lock()
	defer m.encKeyMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.secrets {
		plain, err := crypto.Decrypt(s.EncryptedValue, m.encKey)
		if err != nil {
			return fmt.Errorf("decrypt secret %q: %w", name, err)
		}
		enc, err := crypto.Encrypt(plain, newKey)
		if err != nil {
			return fmt.Errorf("re-encrypt secret %q: %w", name, err)
		}
		s.EncryptedValue = enc
		m.secrets[name] = s
	}
	m.encKey = newKey

	return nil
}

func (m *Memory) SetEncryptionKey(newKey []byte) {
	m.encKeyMu.Lock()
	m.encKey = newKey
	m.encKeyMu.Unlock()
}
