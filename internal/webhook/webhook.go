// Package webhook verifies and parses inbound source-control events and
// turns them into chat notifications (spec.md §6): it routes each event by
// ChatRegistry and fans out through the messaging Hub, without going
// through the kernel. Wire-level signature verification lives here, not in
// SourceControlAdapter, mirroring the teacher's WebhookAPI sitting in the
// server package rather than in the workflow engine.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/giquina/clawd-bot/internal/chatregistry"
	"github.com/giquina/clawd-bot/internal/messaging"
	"github.com/giquina/clawd-bot/internal/store"
)

// supportedEvents are the GitHub event kinds the kernel understands; any
// other X-GitHub-Event value is accepted and ignored (spec.md §6).
var supportedEvents = map[string]bool{
	"push": true, "pull_request": true, "issues": true,
	"workflow_run": true, "create": true, "release": true, "ping": true,
}

// Event is the kernel-facing, already-parsed shape of an inbound webhook.
type Event struct {
	Type       string
	Repository string // "owner/name"
	Summary    string
	Critical   bool
}

// Handler verifies, parses, and routes inbound GitHub webhooks.
type Handler struct {
	secret   string
	registry *chatregistry.Registry
	hub      *messaging.Hub
}

func New(secret string, registry *chatregistry.Registry, hub *messaging.Hub) *Handler {
	return &Handler{secret: secret, registry: registry, hub: hub}
}

// ServeHTTP implements http.Handler so it can be mounted directly on an ada
// route, matching the teacher's pattern of one method-per-route handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, "read body failed")
		return
	}

	if h.secret != "" {
		if !validSignature(h.secret, r.Header.Get("X-Hub-Signature-256"), body) {
			jsonResponse(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		jsonResponse(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	if !supportedEvents[eventType] {
		jsonResponse(w, http.StatusOK, "ignored")
		return
	}

	event, err := parse(eventType, body)
	if err != nil {
		slog.Error("webhook: parse payload failed", "event", eventType, "error", err)
		jsonResponse(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if event == nil {
		jsonResponse(w, http.StatusOK, "ignored")
		return
	}

	h.route(r.Context(), *event)
	jsonResponse(w, http.StatusAccepted, "queued")
}

func (h *Handler) route(ctx context.Context, event Event) {
	level := store.NotifyAll
	if event.Critical {
		level = store.NotifyCritical
	}

	chats := h.registry.RouteFor(event.Repository, level)
	for _, c := range chats {
		n := messaging.Notification{
			ChatID:   c.ChatID,
			Platform: c.Platform,
			Text:     fmt.Sprintf("[%s] %s", event.Repository, event.Summary),
			Critical: event.Critical,
		}
		if err := h.hub.Send(ctx, n); err != nil {
			slog.Error("webhook: deliver notification failed", "chat_id", c.ChatID, "error", err)
		}
	}
}

func validSignature(secret, header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)

	return hmac.Equal(want, got)
}

func jsonResponse(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
