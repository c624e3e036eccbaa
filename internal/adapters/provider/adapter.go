package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// classifyPrompt is the system instruction sent to the backing chat model for
// the NLRouter classifier layer. The model is asked to reply with nothing but
// a JSON object matching Classification's fields.
const classifyPrompt = `You are an intent classifier for a developer-operations chat bot.
Given the user's message, reply with ONLY a single JSON object (no prose, no
markdown fences) with these fields:

  intent (string), action (string), project (string), company (string),
  confidence (number 0..1), ambiguous (bool), risk ("low"|"med"|"high"),
  requires_confirmation (bool), alternatives (array of string, optional),
  clarifying_questions (array of string, optional)

If the message doesn't carry a clear project or company, leave those fields
empty strings. Registered repo context, if any, is given below.`

// Wrap adapts a bare LLMProvider chat backend into the full provider.Adapter
// contract by layering a JSON-classification prompt on top of Chat. Every
// concrete backend package (antropic, openai, gemini, vertex, ollama) is
// wrapped this way rather than implementing Classify itself, since
// classification is a routing concern, not a per-provider one.
func Wrap(backend LLMProvider, model string) Adapter {
	return &wrapped{backend: backend, model: model}
}

type wrapped struct {
	backend LLMProvider
	model   string
}

func (w *wrapped) Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*LLMResponse, error) {
	return w.backend.Chat(ctx, model, messages, tools)
}

func (w *wrapped) Classify(ctx context.Context, text string, cctx ClassifyContext) (*Classification, error) {
	var sb strings.Builder
	sb.WriteString(classifyPrompt)
	if cctx.RegisteredRepo != "" {
		fmt.Fprintf(&sb, "\nRegistered repo for this chat: %s\n", cctx.RegisteredRepo)
	}
	for _, h := range cctx.Recent {
		fmt.Fprintf(&sb, "\nRecent: %s\n", h)
	}

	messages := []Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: text},
	}

	resp, err := w.backend.Chat(ctx, w.model, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("classify chat call: %w", err)
	}

	return parseClassification(resp.Content)
}

// classificationWire is the JSON shape the classify prompt asks the model
// to emit; parseClassification decodes into this then maps to Classification.
type classificationWire struct {
	Intent               string   `json:"intent"`
	Action               string   `json:"action"`
	Project              string   `json:"project"`
	Company              string   `json:"company"`
	Confidence           float64  `json:"confidence"`
	Ambiguous            bool     `json:"ambiguous"`
	Risk                 string   `json:"risk"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Alternatives         []string `json:"alternatives"`
	ClarifyingQuestions  []string `json:"clarifying_questions"`
}

func parseClassification(content string) (*Classification, error) {
	content = extractJSONObject(content)
	if content == "" {
		return nil, fmt.Errorf("classify: no JSON object in model response")
	}

	var wire classificationWire
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("classify: unmarshal model response: %w", err)
	}

	risk := wire.Risk
	if risk == "" {
		risk = "low"
	}

	return &Classification{
		Intent:               wire.Intent,
		Action:               wire.Action,
		Project:              wire.Project,
		Company:              wire.Company,
		Confidence:           wire.Confidence,
		Ambiguous:            wire.Ambiguous,
		Risk:                 risk,
		RequiresConfirmation: wire.RequiresConfirmation,
		Alternatives:         wire.Alternatives,
		ClarifyingQuestions:  wire.ClarifyingQuestions,
	}, nil
}

// extractJSONObject trims markdown code fences and leading/trailing prose
// that some models wrap their JSON output in, returning just the outermost
// {...} span.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
