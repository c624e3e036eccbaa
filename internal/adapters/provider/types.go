// Package provider defines the narrow contract the kernel uses to talk to
// any large-language-model backend, plus the concrete message/tool wire
// types shared by every backend implementation in its sibling packages
// (antropic, openai, gemini, vertex, ollama).
package provider

import (
	"context"
	"net/http"
)

// Adapter is the ExternalAdapters/ProviderAdapter contract from spec.md §4.10:
// classify(text, ctx) and chat(messages, options).
type Adapter interface {
	// Classify asks the provider to route free-form text to an intent. Used
	// by the NLRouter classifier layer.
	Classify(ctx context.Context, text string, ctx2 ClassifyContext) (*Classification, error)

	// Chat sends messages to the LLM and returns a response. model may be
	// empty, in which case the provider's configured default is used.
	Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*LLMResponse, error)
}

// LLMProvider is the minimal chat transport every backend package implements;
// Adapter wraps one of these plus a classification prompt strategy.
type LLMProvider interface {
	Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*LLMResponse, error)
}

// LLMStreamProvider is optionally implemented by providers that support
// true SSE streaming; callers type-assert for it and fall back to Chat
// otherwise.
type LLMStreamProvider interface {
	ChatStream(ctx context.Context, model string, messages []Message, tools []Tool) (<-chan StreamChunk, http.Header, error)
	Proxy(w http.ResponseWriter, r *http.Request, path string) error
}

// ClassifyContext carries salient routing context (registered repo, recent
// history) into the classifier prompt.
type ClassifyContext struct {
	ChatID         string
	RegisteredRepo string
	Recent         []string
}

// Classification is the structured result of the NLRouter classifier layer
// (spec.md §4.5 step 3).
type Classification struct {
	Intent               string
	Action               string
	Project              string
	Company              string
	Confidence           float64
	Ambiguous            bool
	Risk                 string // "low", "med", "high"
	RequiresConfirmation bool
	Alternatives         []string
	ClarifyingQuestions  []string
	ConfidenceFactors    map[string]float64
}

type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentBlock struct {
	Type             string         `json:"type"`
	Text             string         `json:"text,omitempty"`
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
	ToolUseID        string         `json:"tool_use_id,omitempty"`
	Content          string         `json:"content,omitempty"`
	Source           *MediaSource   `json:"source,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
}

// MediaSource represents an image/document/audio/video content source.
type MediaSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type LLMResponse struct {
	Content      string
	InlineImages []InlineImage
	ToolCalls    []ToolCall
	Finished     bool
	Usage        Usage
	Header       http.Header
}

type InlineImage struct {
	MimeType string
	Data     string
}

type ToolCall struct {
	ID               string
	Name             string
	Arguments        map[string]any
	ThoughtSignature string
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type StreamChunk struct {
	Content      string
	InlineImages []InlineImage
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
	Error        error
}
