package provider

import (
	"fmt"

	"github.com/giquina/clawd-bot/internal/adapters/provider/antropic"
	"github.com/giquina/clawd-bot/internal/adapters/provider/gemini"
	"github.com/giquina/clawd-bot/internal/adapters/provider/ollama"
	"github.com/giquina/clawd-bot/internal/adapters/provider/openai"
	"github.com/giquina/clawd-bot/internal/adapters/provider/vertex"
	"github.com/giquina/clawd-bot/internal/config"
)

// Build constructs the Adapter named by cfg.Type. Every backend package
// (antropic, openai, gemini, vertex, ollama) implements the bare LLMProvider
// chat transport; Build wraps whichever one matches with the shared
// classification prompt via Wrap.
func Build(cfg config.LLMConfig) (Adapter, error) {
	switch cfg.Type {
	case "anthropic":
		p, err := antropic.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Proxy, cfg.InsecureSkipVerify)
		if err != nil {
			return nil, fmt.Errorf("build anthropic provider: %w", err)
		}
		return Wrap(p, cfg.Model), nil
	case "openai":
		p, err := openai.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Proxy, cfg.InsecureSkipVerify, cfg.ExtraHeaders)
		if err != nil {
			return nil, fmt.Errorf("build openai provider: %w", err)
		}
		return Wrap(p, cfg.Model), nil
	case "gemini":
		p, err := gemini.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Proxy, cfg.InsecureSkipVerify)
		if err != nil {
			return nil, fmt.Errorf("build gemini provider: %w", err)
		}
		return Wrap(p, cfg.Model), nil
	case "vertex":
		p, err := vertex.New(cfg.Model, cfg.BaseURL, cfg.Proxy, cfg.InsecureSkipVerify)
		if err != nil {
			return nil, fmt.Errorf("build vertex provider: %w", err)
		}
		return Wrap(p, cfg.Model), nil
	case "ollama":
		return Wrap(ollama.New(cfg.Model), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
