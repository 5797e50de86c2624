package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
)

// echoDelay paces the echo engine so its output reads as a stream.
const echoDelay = 15 * time.Millisecond

// NewEngine builds the inference engine named by cfg.Engine.Provider. For
// ollama with engine.warmup set, the model is loaded before returning.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.InferenceEngine, error) {
	logger = logger.With("component", "engine", "provider", cfg.Engine.Provider)

	switch cfg.Engine.Provider {
	case "ollama":
		tmpl, err := LookupTemplate(cfg.Model.Template)
		if err != nil {
			return nil, err
		}
		eng := NewOllamaEngine(cfg.Engine, tmpl, logger)
		if cfg.Engine.Warmup {
			if err := eng.Warmup(ctx, cfg.Model.Path); err != nil {
				return nil, err
			}
		}
		return eng, nil
	case "openai":
		if cfg.Model.Template != "" && cfg.Model.Template != "none" {
			logger.Warn("model.template is ignored by the openai provider", "template", cfg.Model.Template)
		}
		return NewOpenAIEngine(cfg.Engine, logger), nil
	case "echo":
		return NewEchoEngine(echoDelay), nil
	default:
		return nil, domain.NewDomainError("NewEngine", domain.ErrEngineNotFound,
			fmt.Sprintf("unknown provider %q", cfg.Engine.Provider))
	}
}
