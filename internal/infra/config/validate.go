package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateModel(cfg, ve)
	validateEngine(cfg, ve)
	validatePrompt(cfg, ve)
	validateScript(cfg, ve)
	validateUI(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Templates lists the accepted model.template values. Every name other than
// "" and "none" must have a renderer in the llm package.
var Templates = map[string]bool{
	"":        true,
	"none":    true,
	"llama3":  true,
	"chatml":  true,
	"gemma":   true,
	"mistral": true,
}

func validateModel(cfg *Config, ve *ValidationError) {
	m := cfg.Model
	if strings.TrimSpace(m.Path) == "" && cfg.Engine.Provider != "echo" {
		ve.Add("model.path must not be empty")
	}
	if !Templates[m.Template] {
		ve.Add("model.template %q is unknown (want: llama3, chatml, gemma, mistral, none)", m.Template)
	}
	if m.ContextSize < 0 {
		ve.Add("model.context_size must be >= 0, got %d", m.ContextSize)
	}
	if m.BatchSize < 0 {
		ve.Add("model.batch_size must be >= 0, got %d", m.BatchSize)
	}
	if m.GPULayers < 0 {
		ve.Add("model.gpu_layers must be >= 0, got %d", m.GPULayers)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		ve.Add("model.temperature must be in [0, 2], got %g", m.Temperature)
	}
}

var validProviders = map[string]bool{
	"ollama": true,
	"openai": true,
	"echo":   true,
}

func validateEngine(cfg *Config, ve *ValidationError) {
	e := cfg.Engine
	if !validProviders[e.Provider] {
		ve.Add("engine.provider %q is invalid (want: ollama, openai, echo)", e.Provider)
	}
	if e.ConnTimeout < 0 || e.RespTimeout < 0 {
		ve.Add("engine timeouts must not be negative")
	}
	if e.Provider == "openai" && e.BaseURL == "" && e.APIKey == "" {
		ve.Add("engine.api_key is empty (set via SCRIPTCHAT_ENGINE_API_KEY) and no base_url points at a local server")
	}
}

func validatePrompt(cfg *Config, ve *ValidationError) {
	if cfg.Prompt.Path == "" {
		return
	}
	info, err := os.Stat(cfg.Prompt.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		ve.Add("prompt.path %q does not exist", cfg.Prompt.Path)
	case err != nil:
		ve.Add("prompt.path %q: %v", cfg.Prompt.Path, err)
	case info.IsDir():
		ve.Add("prompt.path %q is a directory", cfg.Prompt.Path)
	}
}

var validScriptEngines = map[string]bool{
	"lua":  true,
	"expr": true,
}

func validateScript(cfg *Config, ve *ValidationError) {
	s := cfg.Script
	if !validScriptEngines[s.Engine] {
		ve.Add("script.engine %q is invalid (want: lua, expr)", s.Engine)
	}
	if s.Timeout < 0 {
		ve.Add("script.timeout must not be negative")
	}
	if s.RateLimitPerMinute < 0 {
		ve.Add("script.rate_limit_per_minute must be >= 0, got %d", s.RateLimitPerMinute)
	}
	if s.RemindersDSN == "" {
		ve.Add("script.reminders_dsn must not be empty")
	}
}

func validateUI(cfg *Config, ve *ValidationError) {
	switch cfg.UI.Mode {
	case "tui", "console":
	default:
		ve.Add("ui.mode %q is invalid (want: tui, console)", cfg.UI.Mode)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	case "file":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint must name a file when tracer.exporter is \"file\"")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, file, noop)", cfg.Tracer.Exporter)
	}
}
