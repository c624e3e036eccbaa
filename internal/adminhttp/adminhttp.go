// Package adminhttp serves the minimal operator surface spec.md §6's
// expansion calls for: list skills, list pending scheduled jobs, tail the
// audit ring. The /admin routes are gated by the same bearer-token
// middleware shape the teacher uses for its /settings/rotate-key endpoint;
// the /webhooks/github route is not behind that middleware and relies on
// the webhook handler's own signature check.
package adminhttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/mcpserver"
	"github.com/giquina/clawd-bot/internal/skill"
	"github.com/giquina/clawd-bot/internal/store"
	"github.com/giquina/clawd-bot/internal/webhook"
)

type Server struct {
	cfg    config.Server
	server *ada.Server

	store    store.Storer
	skills   *skill.Registry
	webhooks *webhook.Handler
}

func New(cfg config.Server, st store.Storer, skills *skill.Registry, webhooks *webhook.Handler, mcp *mcpserver.Server) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{cfg: cfg, server: mux, store: st, skills: skills, webhooks: webhooks}

	mux.POST("/webhooks/github", webhooks.ServeHTTP)

	admin := mux.Group("/admin")
	admin.Use(s.authMiddleware())
	admin.GET("/skills", s.listSkills)
	admin.GET("/jobs", s.listPendingJobs)
	admin.GET("/audit", s.tailAudit)
	// /admin/mcp exposes the same skills over the Model Context Protocol
	// for external MCP clients; it shares the admin bearer-token gate
	// since it can execute any registered skill.
	admin.POST("/mcp", mcp.ServeHTTP)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.cfg.Host, s.cfg.Port))
}

func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.AdminToken == "" {
				jsonResponse(w, http.StatusForbidden, "admin token not configured")
				return
			}
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == "" || token == auth || token != s.cfg.AdminToken {
				jsonResponse(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	jsonResponseBody(w, http.StatusOK, s.skills.List())
}

func (s *Server) listPendingJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.PendingJobs(r.Context())
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, "list pending jobs failed")
		return
	}
	jsonResponseBody(w, http.StatusOK, jobs)
}

func (s *Server) tailAudit(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	entries, err := s.store.RecentAudit(r.Context(), n)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, "tail audit failed")
		return
	}
	jsonResponseBody(w, http.StatusOK, entries)
}

func jsonResponse(w http.ResponseWriter, code int, msg string) {
	jsonResponseBody(w, code, map[string]string{"message": msg})
}

func jsonResponseBody(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
