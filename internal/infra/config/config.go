package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Engine EngineConfig `yaml:"engine"`
	Prompt PromptConfig `yaml:"prompt"`
	Script ScriptConfig `yaml:"script"`
	UI     UIConfig     `yaml:"ui"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// ModelConfig selects the model and the generation knobs passed to the
// inference engine unmodified. Zero numeric values leave the engine default.
type ModelConfig struct {
	Path        string  `yaml:"path"`     // model file path or served model name
	Template    string  `yaml:"template"` // llama3, chatml, gemma, mistral, none
	ContextSize int     `yaml:"context_size"`
	BatchSize   int     `yaml:"batch_size"`
	GPULayers   int     `yaml:"gpu_layers"`
	Temperature float64 `yaml:"temperature"`
}

// EngineConfig holds inference engine connection settings.
type EngineConfig struct {
	Provider    string        `yaml:"provider"` // ollama, openai, echo
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	// Warmup loads the model before the first turn (ollama only).
	Warmup bool `yaml:"warmup"`
}

// PoolConfig holds HTTP connection pool settings for the engine client.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// PromptConfig locates the system prompt file.
type PromptConfig struct {
	Path string `yaml:"path"`
	// InputEnvelope wraps user and tool input as {"role":..,"message":..}
	// before it reaches the model.
	InputEnvelope bool `yaml:"input_envelope"`
}

// ScriptConfig selects and bounds the script interpreter.
type ScriptConfig struct {
	Engine             string        `yaml:"engine"` // lua, expr
	Timeout            time.Duration `yaml:"timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"` // send_sms / send_msg
	RemindersDSN       string        `yaml:"reminders_dsn"`
}

// UIConfig selects the presentation adapter.
type UIConfig struct {
	Mode           string `yaml:"mode"` // tui, console
	AltScreen      bool   `yaml:"alt_screen"`
	RenderMarkdown bool   `yaml:"render_markdown"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout, stderr or a file path; empty picks one for the UI mode
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, file, noop
	Endpoint string `yaml:"endpoint"` // file path for the file exporter
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Model: ModelConfig{
			Path:        "llama3.2",
			ContextSize: 4096,
			BatchSize:   512,
			Temperature: 0.7,
		},
		Engine: EngineConfig{
			Provider: "ollama",
		},
		Script: ScriptConfig{
			Engine:             "expr",
			Timeout:            10 * time.Second,
			RateLimitPerMinute: 10,
			RemindersDSN:       ":memory:",
		},
		UI: UIConfig{
			Mode:           "tui",
			AltScreen:      true,
			RenderMarkdown: true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env overrides and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Relative prompt paths are resolved against the config file.
	if cfg.Prompt.Path != "" && !filepath.IsAbs(cfg.Prompt.Path) {
		cfg.Prompt.Path = filepath.Join(filepath.Dir(absPath), cfg.Prompt.Path)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SCRIPTCHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCRIPTCHAT_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("SCRIPTCHAT_MODEL_TEMPLATE"); v != "" {
		cfg.Model.Template = v
	}
	envInt("SCRIPTCHAT_MODEL_CONTEXT_SIZE", &cfg.Model.ContextSize)
	envInt("SCRIPTCHAT_MODEL_BATCH_SIZE", &cfg.Model.BatchSize)
	envInt("SCRIPTCHAT_MODEL_GPU_LAYERS", &cfg.Model.GPULayers)
	if v := os.Getenv("SCRIPTCHAT_MODEL_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Model.Temperature = f
		}
	}
	if v := os.Getenv("SCRIPTCHAT_ENGINE_PROVIDER"); v != "" {
		cfg.Engine.Provider = v
	}
	if v := os.Getenv("SCRIPTCHAT_ENGINE_BASE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("SCRIPTCHAT_ENGINE_API_KEY"); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("SCRIPTCHAT_PROMPT_PATH"); v != "" {
		cfg.Prompt.Path = v
	}
	if v := os.Getenv("SCRIPTCHAT_PROMPT_INPUT_ENVELOPE"); v != "" {
		cfg.Prompt.InputEnvelope = v == "true"
	}
	if v := os.Getenv("SCRIPTCHAT_SCRIPT_ENGINE"); v != "" {
		cfg.Script.Engine = v
	}
	if v := os.Getenv("SCRIPTCHAT_SCRIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Script.Timeout = d
		}
	}
	if v := os.Getenv("SCRIPTCHAT_SCRIPT_REMINDERS_DSN"); v != "" {
		cfg.Script.RemindersDSN = v
	}
	if v := os.Getenv("SCRIPTCHAT_UI_MODE"); v != "" {
		cfg.UI.Mode = v
	}
	if v := os.Getenv("SCRIPTCHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SCRIPTCHAT_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("SCRIPTCHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SCRIPTCHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

// LogOutput returns the configured log destination. When unset, the
// full-screen UI logs to a file in the temp dir since it owns the terminal.
func (c *Config) LogOutput() string {
	if c.Logger.Output != "" {
		return c.Logger.Output
	}
	if c.UI.Mode == "tui" {
		return filepath.Join(os.TempDir(), "scriptchat.log")
	}
	return "stderr"
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
