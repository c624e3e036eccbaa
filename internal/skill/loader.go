package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Factory builds a Skill instance from its decoded per-skill config.
type Factory func(cfg json.RawMessage) (Skill, error)

// manifest is the optional <dir>/skill.json a skill directory may carry:
// {"enabled": false} disables a skill without removing its directory.
type manifest struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// Loader discovers skills under a root directory, one subdirectory per
// skill name, and hot-reloads the Registry when a skill.json manifest
// changes on disk.
type Loader struct {
	root      string
	registry  *Registry
	factories map[string]Factory

	watcher *fsnotify.Watcher

	debounceMu sync.Mutex
	debounce   map[string]time.Time
}

// NewLoader creates a Loader rooted at dir. factories maps a skill
// directory name to the constructor that builds it.
func NewLoader(dir string, registry *Registry, factories map[string]Factory) *Loader {
	return &Loader{
		root:      dir,
		registry:  registry,
		factories: factories,
		debounce:  make(map[string]time.Time),
	}
}

// LoadAll walks root once, registering every enabled skill directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := l.loadOne(e.Name()); err != nil {
			slog.Error("skill loader: failed to load skill", "skill", e.Name(), "error", err)
		}
	}
	return nil
}

func (l *Loader) loadOne(name string) error {
	factory, ok := l.factories[name]
	if !ok {
		return fmt.Errorf("no factory registered for skill directory %q", name)
	}

	m, err := l.readManifest(name)
	if err != nil {
		return err
	}
	if !m.Enabled {
		l.registry.Unregister(name)
		return nil
	}

	s, err := factory(m.Config)
	if err != nil {
		return fmt.Errorf("construct skill %q: %w", name, err)
	}

	l.registry.Unregister(name)
	if err := l.registry.Register(s); err != nil {
		return fmt.Errorf("register skill %q: %w", name, err)
	}
	return nil
}

func (l *Loader) readManifest(name string) (manifest, error) {
	path := filepath.Join(l.root, name, "skill.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No manifest means enabled with empty config, matching the
			// filesystem-loader convention of "presence = enabled".
			return manifest{Enabled: true}, nil
		}
		return manifest{}, fmt.Errorf("read manifest for %q: %w", name, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("parse manifest for %q: %w", name, err)
	}
	return m, nil
}

// Watch starts an fsnotify watch on root and reloads the affected skill
// directory whenever its skill.json changes, debounced to coalesce rapid
// successive writes from editors.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = w

	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	if err := w.Add(l.root); err != nil {
		return fmt.Errorf("watch skills dir: %w", err)
	}

	entries, _ := os.ReadDir(l.root)
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(l.root, e.Name()))
		}
	}

	go l.run(ctx)
	return nil
}

func (l *Loader) run(ctx context.Context) {
	defer l.watcher.Close()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, "skill.json") {
				continue
			}
			name := filepath.Base(filepath.Dir(ev.Name))
			l.debounceMu.Lock()
			l.debounce[name] = time.Now()
			l.debounceMu.Unlock()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("skill loader: watcher error", "error", err)
		case <-ticker.C:
			l.flushDebounced()
		}
	}
}

func (l *Loader) flushDebounced() {
	l.debounceMu.Lock()
	due := make([]string, 0, len(l.debounce))
	now := time.Now()
	for name, t := range l.debounce {
		if now.Sub(t) >= 300*time.Millisecond {
			due = append(due, name)
			delete(l.debounce, name)
		}
	}
	l.debounceMu.Unlock()

	for _, name := range due {
		if err := l.loadOne(name); err != nil {
			slog.Error("skill loader: hot-reload failed", "skill", name, "error", err)
		} else {
			slog.Info("skill loader: hot-reloaded skill", "skill", name)
		}
	}
}

// Stop closes the underlying watcher, if running.
func (l *Loader) Stop() {
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
}
