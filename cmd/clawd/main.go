package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/giquina/clawd-bot/internal/adapters/provider"
	"github.com/giquina/clawd-bot/internal/adapters/secretstore"
	"github.com/giquina/clawd-bot/internal/adapters/sourcecontrol"
	"github.com/giquina/clawd-bot/internal/adapters/subprocess"
	"github.com/giquina/clawd-bot/internal/adapters/transcriber"
	"github.com/giquina/clawd-bot/internal/adminhttp"
	"github.com/giquina/clawd-bot/internal/chatregistry"
	"github.com/giquina/clawd-bot/internal/cluster"
	"github.com/giquina/clawd-bot/internal/confirmation"
	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/cost"
	"github.com/giquina/clawd-bot/internal/kernel"
	"github.com/giquina/clawd-bot/internal/mcpserver"
	"github.com/giquina/clawd-bot/internal/messaging"
	"github.com/giquina/clawd-bot/internal/nlrouter"
	"github.com/giquina/clawd-bot/internal/orchestrator"
	"github.com/giquina/clawd-bot/internal/scheduler"
	"github.com/giquina/clawd-bot/internal/skill"
	"github.com/giquina/clawd-bot/internal/skills/chatcontext"
	"github.com/giquina/clawd-bot/internal/skills/confirmgate"
	"github.com/giquina/clawd-bot/internal/skills/costreport"
	"github.com/giquina/clawd-bot/internal/skills/nlcontrol"
	"github.com/giquina/clawd-bot/internal/skills/ops"
	"github.com/giquina/clawd-bot/internal/skills/pipeline"
	"github.com/giquina/clawd-bot/internal/skills/reminder"
	"github.com/giquina/clawd-bot/internal/store"
	"github.com/giquina/clawd-bot/internal/transport"
	"github.com/giquina/clawd-bot/internal/vectorindex"
	"github.com/giquina/clawd-bot/internal/webhook"
)

var (
	name    = "clawd"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cl, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	if cl != nil {
		go func() {
			if err := cl.Start(ctx, func(newKey []byte) { st.SetEncryptionKey(newKey) }); err != nil && ctx.Err() == nil {
				slog.Error("cluster: start failed", "error", err)
			}
		}()
	}

	classifier, err := classifierAdapter(cfg)
	if err != nil {
		return fmt.Errorf("failed to build classifier provider: %w", err)
	}

	router, err := nlrouter.New(cfg.NLRouter, classifier)
	if err != nil {
		return fmt.Errorf("failed to build nl router: %w", err)
	}
	if err := registerPatterns(router); err != nil {
		return fmt.Errorf("failed to register nl patterns: %w", err)
	}

	sched := scheduler.New(st, cl, cfg.Scheduler.Timezone, cfg.Scheduler.WorkerPoolSize)

	confirm := confirmation.New(st, cfg.Orchestrator.ConfirmationTTL)
	go confirm.Run(ctx, time.Minute)

	subp := subprocess.New(cfg.Orchestrator)
	orch, err := orchestrator.New(cfg.Orchestrator, subp, confirm, cfg.Store.DeployHistoryRingSize)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	chats := chatregistry.New(st)
	if err := chats.Load(ctx); err != nil {
		return fmt.Errorf("failed to load chat registrations: %w", err)
	}

	costTracker := cost.New(st, cfg.CostRates)

	hub := messaging.NewHub()
	if cfg.Messaging.Discord != nil {
		d, err := messaging.NewDiscord(*cfg.Messaging.Discord)
		if err != nil {
			return fmt.Errorf("failed to build discord adapter: %w", err)
		}
		hub.Register(d)
	}
	if cfg.Messaging.Telegram != nil {
		t, err := messaging.NewTelegram(*cfg.Messaging.Telegram)
		if err != nil {
			return fmt.Errorf("failed to build telegram adapter: %w", err)
		}
		hub.Register(t)
	}
	if cfg.Messaging.Digest != nil {
		hub.Register(messaging.NewDigest(*cfg.Messaging.Digest))
	}

	if cfg.VectorIndex != nil && cfg.VectorIndex.Address != "" && classifier != nil {
		if embedder, ok := classifier.(vectorindex.Embedder); ok {
			idx, err := vectorindex.New(ctx, *cfg.VectorIndex, embedder)
			if err != nil {
				slog.Error("vectorindex: disabled, failed to connect", "error", err)
			} else {
				defer idx.Close()
			}
		}
	}

	var scControl *sourcecontrol.Adapter
	var deviceAuth *sourcecontrol.DeviceAuth
	if cfg.SourceControl.Token != "" {
		scControl, err = sourcecontrol.New(cfg.SourceControl)
		if err != nil {
			return fmt.Errorf("failed to build source control adapter: %w", err)
		}
	}
	if cfg.SourceControl.OAuthClientID != "" {
		deviceAuth = sourcecontrol.NewDeviceAuth(cfg.SourceControl)
	}

	secrets := secretstore.New(st)

	var transcribe *transcriber.Adapter
	if cfg.Transcription.AssemblyAIKey != "" {
		transcribe = transcriber.New(cfg.Transcription.AssemblyAIKey)
	}

	skills := skill.NewRegistry()
	for _, s := range []skill.Skill{
		chatcontext.New(chats),
		reminder.New(st, hub),
		pipeline.New(orch),
		confirmgate.New(confirm, orch),
		nlcontrol.New(router),
		costreport.New(costTracker),
		ops.New(secrets, scControl, deviceAuth),
	} {
		if err := skills.Register(s); err != nil {
			return fmt.Errorf("failed to register skill: %w", err)
		}
	}

	deps := skill.Deps{Scheduler: sched, Store: st, Messaging: hub, Provider: classifier}
	if err := skills.Initialize(ctx, deps); err != nil {
		return fmt.Errorf("failed to initialize skills: %w", err)
	}

	if cfg.SkillsDir != "" {
		loader := skill.NewLoader(cfg.SkillsDir, skills, map[string]skill.Factory{})
		if err := loader.LoadAll(); err != nil {
			return fmt.Errorf("failed to load filesystem skills: %w", err)
		}
		if err := loader.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch skills dir: %w", err)
		}
		defer loader.Stop()
	}

	k := kernel.New(st, skills, sched, chats, costTracker, confirm, orch, router, hub)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	mcp := mcpserver.New(skills)

	webhookHandler := webhook.New(cfg.Server.WebhookSecret, chats, hub)
	adminServer, err := adminhttp.New(cfg.Server, st, skills, webhookHandler, mcp)
	if err != nil {
		return fmt.Errorf("failed to build admin server: %w", err)
	}

	go func() {
		if err := adminServer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("admin server: stopped", "error", err)
		}
	}()

	go reapQueuesLoop(ctx, k)

	if a, ok := hub.Adapter("discord"); ok {
		if d, ok := a.(*messaging.DiscordAdapter); ok {
			transport.NewDiscord(d, k).WithTranscriber(transcribe).Attach()
		}
	}

	hub.Start(ctx)

	if a, ok := hub.Adapter("telegram"); ok {
		if t, ok := a.(*messaging.TelegramAdapter); ok {
			tg := transport.NewTelegram(t, k).WithTranscriber(transcribe)
			go func() {
				if err := tg.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("telegram transport: stopped", "error", err)
				}
			}()
		}
	}

	<-ctx.Done()
	return nil
}

// classifierAdapter builds the NLRouter's classifier backend from
// cfg.ClassifierProvider, or returns nil (ambiguous text always falls back
// to passthrough) if none is configured.
func classifierAdapter(cfg *config.Config) (provider.Adapter, error) {
	if cfg.ClassifierProvider == "" {
		return nil, nil
	}
	llmCfg, ok := cfg.Providers[cfg.ClassifierProvider]
	if !ok {
		return nil, fmt.Errorf("classifier_provider %q not found in providers", cfg.ClassifierProvider)
	}
	return provider.Build(llmCfg)
}

// registerPatterns wires the fast unambiguous-phrasing layer ahead of the
// LLM classifier, one pattern per command family in spec.md §6.
func registerPatterns(r *nlrouter.Router) error {
	patterns := map[string]string{
		"register":   `^register\b`,
		"unregister": `^unregister\b`,
		"context":    `^context\b`,
		"list":       `^list\s+(chats|reminders)\b`,
		"set":        `^set\s+notifications\b`,
		"remind":     `^remind\s+me\b`,
		"my":         `^my\s+reminders\b`,
		"cancel":     `^cancel\s+(reminder|[A-Za-z0-9]+)\b`,
		"pipeline":   `^pipeline\b`,
		"confirm":    `^confirm\s+\S+`,
		"nl":         `^nl\s+`,
		"cost":       `^cost\s+`,
		"ai":         `^ai\s+costs\b`,
		"api":        `^api\s+costs\b`,
		"secret":     `^secret\s+`,
		"pr":         `^pr\s+`,
		"issue":      `^issue\s+create\b`,
		"link":       `^link\s+github\b`,
	}
	for command, expr := range patterns {
		if err := r.AddPattern(command, expr); err != nil {
			return err
		}
	}
	return nil
}

// reapQueuesLoop periodically bounds the kernel's per-chat queue map, which
// otherwise grows for the lifetime of a long-running process.
func reapQueuesLoop(ctx context.Context, k *kernel.Kernel) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.ReapIdleQueues(30 * time.Minute)
		}
	}
}
