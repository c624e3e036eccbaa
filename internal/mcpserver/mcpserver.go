// Package mcpserver exposes the skill Registry over the Model Context
// Protocol (JSON-RPC 2.0 per https://www.jsonrpc.org/specification) so an
// external MCP client (an IDE assistant, another agent) can list and
// invoke clawd-bot's skills as tools. Each registered skill becomes one
// MCP tool, named after the skill, whose handler builds a skill.Context
// from the tool call's arguments and executes the skill directly —
// routing (Registry.Route/CanHandle) is for the chat transports; an MCP
// client already picked the tool, so there's nothing left to dispatch.
//
// Only the tools/* surface is implemented. Resources, Prompts, Logging,
// and Completion have no analogue in this domain (skills are not
// documents or canned completions) and are left out; see DESIGN.md.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/giquina/clawd-bot/internal/skill"
)

// JSONRPCRequest is a JSON-RPC 2.0 request or notification (no ID).
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Tool is an MCP tool description (the tools/list entry).
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Server bridges a skill.Registry to MCP's tools/list and tools/call
// methods over HTTP.
type Server struct {
	registry *skill.Registry

	mu    sync.RWMutex
	tools []Tool
}

// New builds a Server whose tool list reflects the Registry's current
// skills. Skills registered after New returns are not picked up; callers
// should construct the Server once all skills are registered (main does
// this right after skills.Initialize).
func New(registry *skill.Registry) *Server {
	s := &Server{registry: registry}
	s.refreshTools()
	return s
}

func (s *Server) refreshTools() {
	skills := s.registry.Skills()
	tools := make([]Tool, 0, len(skills))
	for _, sk := range skills {
		tools = append(tools, Tool{
			Name:        sk.Name(),
			Description: fmt.Sprintf("clawd-bot skill %q (commands: %v)", sk.Name(), sk.Commands()),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{"type": "string", "description": "invoking user id"},
					"chat_id": map[string]any{"type": "string", "description": "chat the invocation is scoped to"},
					"text":    map[string]any{"type": "string", "description": "raw command text, e.g. \"remind me in 1h to stretch\""},
				},
				"required": []string{"text"},
			},
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *Server) listTools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tool(nil), s.tools...)
}

// ServeHTTP implements the MCP transport: one JSON-RPC request or
// notification body per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errorResponse(nil, -32700, "parse error"))
		return
	}

	if req.ID == nil {
		// Notification: fire and forget, no response body.
		w.WriteHeader(http.StatusOK)
		return
	}

	writeJSON(w, s.handle(r.Context(), req))
}

func (s *Server) handle(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"protocolVersion": "2025-06-18",
				"capabilities": map[string]any{
					"tools": map[string]any{"listChanged": false},
				},
				"serverInfo": map[string]any{"name": "clawd-bot", "version": "1.0.0"},
			},
		}
	case "ping":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"status": "pong"}}
	case "tools/list":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": s.listTools()}}
	case "tools/call":
		return s.handleToolsCall(ctx, req.ID, req.Params)
	default:
		return errorResponse(req.ID, -32601, "method not found: "+req.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, id any, params json.RawMessage) JSONRPCResponse {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeJSON(params, &call); err != nil {
		return errorResponse(id, -32602, "invalid params")
	}

	var target skill.Skill
	for _, sk := range s.registry.Skills() {
		if sk.Name() == call.Name {
			target = sk
			break
		}
	}
	if target == nil {
		return errorResponse(id, -32601, "unknown tool: "+call.Name)
	}

	text, _ := call.Arguments["text"].(string)
	if text == "" {
		return errorResponse(id, -32602, "missing required argument \"text\"")
	}
	userID, _ := call.Arguments["user_id"].(string)
	chatID, _ := call.Arguments["chat_id"].(string)

	command, args := splitCommand(text)
	res := target.Execute(skill.Context{
		Context: ctx,
		UserID:  userID,
		ChatID:  chatID,
		Command: command,
		Args:    args,
		Raw:     text,
	})

	if res.Err != nil {
		slog.Error("mcpserver: tool call failed", "tool", call.Name, "error", res.Err)
		return errorResponse(id, -32000, res.Err.Error())
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]any{
			"content": []map[string]any{{"type": "text", "text": res.Text}},
		},
	}
}

func splitCommand(text string) (string, []string) {
	var fields []string
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				fields = append(fields, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, text[start:])
	}
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func errorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

func writeJSON(w http.ResponseWriter, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
