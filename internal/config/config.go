// Package config loads the kernel's layered configuration (file + env,
// optionally Vault/Consul) into a typed Config struct.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

// Service is set by main to "<name>/<version>" for logging/telemetry identification.
var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Providers is a map of named LLM provider configurations, used by both
	// the NLRouter classifier layer and any skill that needs to call an LLM
	// directly. See LLMConfig for the per-provider fields.
	//
	// Example YAML:
	//
	//   providers:
	//     anthropic:
	//       type: anthropic
	//       api_key: "sk-ant-..."
	//       model: "claude-haiku-4-5"
	//     groq:
	//       type: openai
	//       api_key: "gsk_..."
	//       base_url: "https://api.groq.com/openai/v1/chat/completions"
	//       model: "llama-3.3-70b-versatile"
	Providers map[string]LLMConfig `cfg:"providers"`

	// ClassifierProvider names the entry in Providers used by the NLRouter
	// classifier layer. If empty, classification is disabled and ambiguous
	// text always degrades to passthrough.
	ClassifierProvider string `cfg:"classifier_provider"`

	// CostRates is the {provider: {model: Rate}} table CostTracker uses to
	// price CostEntry rows. Never hard-code prices in CostTracker logic.
	CostRates map[string]map[string]CostRate `cfg:"cost_rates"`

	// SkillsDir, if set, starts the filesystem skill loader on that
	// directory and watches it for skill.json changes. cmd/clawd gives the
	// loader an empty factory table, so no skill is built from a
	// subdirectory; each one is logged as having no registered factory.
	// Empty disables the loader; the seven built-in skills always load
	// regardless.
	SkillsDir string `cfg:"skills_dir"`

	Store         Store         `cfg:"store"`
	Server        Server        `cfg:"server"`
	Scheduler     Scheduler     `cfg:"scheduler"`
	Orchestrator  Orchestrator  `cfg:"orchestrator"`
	NLRouter      NLRouter      `cfg:"nl_router"`
	Messaging     Messaging     `cfg:"messaging"`
	SourceControl SourceControl `cfg:"source_control"`
	VectorIndex   *VectorIndex  `cfg:"vector_index"`
	Transcription Transcription `cfg:"transcription"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// CostRate is the per-1000-token price for a provider/model pair, in USD.
type CostRate struct {
	InputPerMille  float64 `cfg:"input_per_mille"`
	OutputPerMille float64 `cfg:"output_per_mille"`
}

type Server struct {
	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// AdminToken, if set, protects the /admin/* endpoints with bearer token
	// authentication. If empty, admin endpoints are disabled (403).
	AdminToken string `cfg:"admin_token" log:"-"`

	// WebhookSecret validates the X-Hub-Signature-256 header on inbound
	// source-control webhooks. If empty, signature verification is skipped
	// (only safe for local development).
	WebhookSecret string `cfg:"webhook_secret" log:"-"`

	// Alan, if set, enables distributed clustering via UDP peer discovery so
	// multiple bot instances can share a single active Scheduler leader and
	// coordinate encryption key rotation.
	Alan *alan.Config `cfg:"alan"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey enables AES-256-GCM encryption for Secret values and
	// other sensitive stored fields. Any non-empty string works; it is
	// hashed to a 32-byte key internally. Empty disables encryption.
	EncryptionKey string `cfg:"encryption_key" log:"-"`

	// ConversationRetention is how many of the most recent ConversationEntry
	// rows are kept per user; older rows are pruned by age, not id reuse.
	ConversationRetention int `cfg:"conversation_retention" default:"200"`

	// AuditRingSize and CostRingSize bound the in-memory rings described in
	// spec.md §3 (ring eviction, not unbounded growth).
	AuditRingSize int `cfg:"audit_ring_size" default:"500"`
	CostRingSize  int `cfg:"cost_ring_size" default:"1000"`

	// DeployHistoryRingSize bounds the Orchestrator's DeploymentHistory ring.
	DeployHistoryRingSize int `cfg:"deploy_history_ring_size" default:"50"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// Scheduler configures cron/one-shot job execution (spec.md §4.6).
type Scheduler struct {
	// Timezone is used to qualify bare cron specs ("CRON_TZ=<tz> <spec>").
	Timezone string `cfg:"timezone" default:"Europe/London"`

	// WorkerPoolSize bounds concurrent job executions (spec.md §5 backpressure).
	WorkerPoolSize int `cfg:"worker_pool_size" default:"4"`
}

// Orchestrator configures pipeline execution (spec.md §4.7).
type Orchestrator struct {
	// Projects maps a project/repo name to its absolute working-directory
	// path. Unknown projects are rejected (spec.md §4.7).
	Projects map[string]string `cfg:"projects"`

	// HealthEndpoints maps a repo name to its post-deploy health-check URL.
	HealthEndpoints map[string]string `cfg:"health_endpoints"`

	// Whitelist maps a command name to its execution policy.
	Whitelist map[string]WhitelistEntry `cfg:"whitelist"`

	// ConfirmationTTL is how long a PendingConfirmation token stays redeemable.
	ConfirmationTTL time.Duration `cfg:"confirmation_ttl" default:"5m"`

	// DevMode forces subprocess execution to simulate rather than actually
	// run commands, regardless of platform probe. Useful for CI/tests.
	DevMode bool `cfg:"dev_mode"`

	// SandboxRoot is the root directory project-relative paths are resolved
	// under when DevMode is false (mirrors the teacher's exec-node sandboxing).
	SandboxRoot string `cfg:"sandbox_root" default:"/tmp/clawd-sandbox"`
}

// WhitelistEntry is one row of the Orchestrator's command whitelist table.
type WhitelistEntry struct {
	Timeout              time.Duration `cfg:"timeout" default:"30s"`
	RequiresConfirmation bool          `cfg:"requires_confirmation"`
	Description          string        `cfg:"description"`
}

// NLRouter configures the layered text router (spec.md §4.5). The first five
// fields can be changed at runtime with the "nl set" command (ai-timeout,
// cache-size, cache-ttl, ambiguity, clarification). The four Weight fields
// are read from config only: "nl set" cannot change them and no router
// layer reads them.
type NLRouter struct {
	AITimeoutMs           int     `cfg:"ai_timeout_ms" default:"5000"`
	CacheMaxSize          int     `cfg:"cache_max_size" default:"500"`
	CacheMaxAgeMs         int     `cfg:"cache_max_age_ms" default:"300000"`
	AmbiguityThreshold    float64 `cfg:"ambiguity_threshold" default:"0.5"`
	ClarificationThreshold float64 `cfg:"clarification_threshold" default:"0.3"`

	WeightKeywordMatch float64 `cfg:"weight_keyword_match" default:"0.4"`
	WeightContextMatch float64 `cfg:"weight_context_match" default:"0.3"`
	WeightHistoryMatch float64 `cfg:"weight_history_match" default:"0.2"`
	WeightSpecificity  float64 `cfg:"weight_specificity" default:"0.1"`
}

// Messaging configures concrete MessagingAdapter implementations.
type Messaging struct {
	Discord  *DiscordConfig  `cfg:"discord"`
	Telegram *TelegramConfig `cfg:"telegram"`
	Digest   *DigestConfig   `cfg:"digest"`
}

type DiscordConfig struct {
	BotToken string `cfg:"bot_token" log:"-"`
}

type TelegramConfig struct {
	BotToken string `cfg:"bot_token" log:"-"`
}

// DigestConfig configures the batched "digest" notification channel
// (spec.md §4.2's otherwise-unspecified digest delivery).
type DigestConfig struct {
	SMTPHost     string        `cfg:"smtp_host"`
	SMTPPort     int           `cfg:"smtp_port" default:"587"`
	SMTPUsername string        `cfg:"smtp_username"`
	SMTPPassword string        `cfg:"smtp_password" log:"-"`
	From         string        `cfg:"from"`
	To           string        `cfg:"to"`
	FlushEvery   time.Duration `cfg:"flush_every" default:"1h"`
}

// SourceControl configures GitHub access for the Orchestrator's repo/PR/issue
// operations and deployment rollback checkouts.
type SourceControl struct {
	// Token is a GitHub PAT or OAuth token used for REST calls. Empty leaves
	// the adapter read-only against public repos.
	Token string `cfg:"token" log:"-"`

	// APIBaseURL lets self-hosted GitHub Enterprise instances override the
	// default api.github.com endpoint.
	APIBaseURL string `cfg:"api_base_url" default:"https://api.github.com"`

	// OAuthClientID/OAuthClientSecret enable the device-authorization flow
	// for linking a new GitHub account from chat (the "link github" command).
	OAuthClientID     string `cfg:"oauth_client_id"`
	OAuthClientSecret string `cfg:"oauth_client_secret" log:"-"`
}

// Transcription configures inbound voice-message transcription. Empty
// APIKey leaves voice messages untranscribed (the chat transports fall back
// to ignoring the attachment).
type Transcription struct {
	AssemblyAIKey string `cfg:"assemblyai_key" log:"-"`
}

// VectorIndex configures the optional Milvus-backed semantic recall feature.
// Nil disables it entirely; Store's exact/substring query path is unaffected.
type VectorIndex struct {
	Address    string `cfg:"address"`
	Collection string `cfg:"collection" default:"clawd_memory"`
	Dimension  int    `cfg:"dimension" default:"1536"`
}

// LLMConfig describes a single LLM provider configuration.
type LLMConfig struct {
	// Type selects the backend: "anthropic", "openai", "vertex", "gemini", "ollama".
	Type string `cfg:"type" json:"type"`

	// APIKey is the authentication key for the provider. Optional for
	// "ollama" and for "vertex" (uses Google Application Default Credentials).
	APIKey string `cfg:"api_key" json:"api_key" log:"-"`

	// BaseURL is the full chat-completions endpoint; each backend has a
	// sensible default when empty.
	BaseURL string `cfg:"base_url" json:"base_url"`

	// Model is the default model identifier.
	Model string `cfg:"model" json:"model"`

	// ExtraHeaders are sent with every request (e.g. GitHub Models requires
	// an Accept + API-Version header pair).
	ExtraHeaders map[string]string `cfg:"extra_headers" json:"extra_headers"`

	// Proxy is an optional HTTP/HTTPS/SOCKS5 proxy URL.
	Proxy string `cfg:"proxy" json:"proxy"`

	// InsecureSkipVerify disables TLS certificate verification (self-signed
	// or internal endpoints only).
	InsecureSkipVerify bool `cfg:"insecure_skip_verify" json:"insecure_skip_verify"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CLAWD_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
