package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scriptchat/internal/adapter/llm"
	"scriptchat/internal/adapter/script"
	"scriptchat/internal/infra/config"
	"scriptchat/internal/infra/prompt"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string
}

// Check is a named health check.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the config, prompt, engine and script runtime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, cfgErr := loadConfig(cmd)
		return runDoctor(cmd.Context(), cmd.OutOrStdout(), cfg, cfgErr)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorChecks(cfgErr error) []Check {
	return []Check{
		{Name: "Config", Fn: checkConfig(opts.configPath, cfgErr)},
		{Name: "Prompt", Fn: checkPrompt},
		{Name: "Template", Fn: checkTemplate},
		{Name: "Engine", Fn: checkEngine},
		{Name: "Script runtime", Fn: checkScript},
	}
}

// runDoctor executes the checks and writes a report to w. Some checks work
// without a config.
func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config, cfgErr error) error {
	fmt.Fprintln(w, "scriptchat doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range doctorChecks(cfgErr) {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
}

func checkConfig(path string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Fix the listed fields in " + path + " or the SCRIPTCHAT_* environment",
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", path),
			}
		}
		return CheckResult{Status: StatusPass, Message: "loaded " + path}
	}
}

func checkPrompt(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Prompt.Path == "" {
		return CheckResult{Status: StatusWarn, Message: "no prompt file, the transcript starts empty"}
	}
	turns, err := prompt.Load(cfg.Prompt.Path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d seed turn(s) from %s", len(turns), cfg.Prompt.Path)}
}

func checkTemplate(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	tmpl, err := llm.LookupTemplate(cfg.Model.Template)
	switch {
	case err != nil:
		return CheckResult{Status: StatusFail, Message: err.Error()}
	case tmpl == nil:
		return CheckResult{Status: StatusPass, Message: "none, the engine applies the model's own chat template"}
	case cfg.Engine.Provider != "ollama":
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s is ignored by the %s engine", tmpl.Name, cfg.Engine.Provider),
		}
	}
	return CheckResult{Status: StatusPass, Message: tmpl.Name}
}

func checkEngine(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Engine.Provider {
	case "echo":
		return CheckResult{Status: StatusPass, Message: "echo engine needs no server"}
	case "ollama":
		return checkOllama(ctx, cfg)
	default:
		return checkHTTP(ctx, cfg.Engine.BaseURL)
	}
}

func checkOllama(ctx context.Context, cfg *config.Config) CheckResult {
	eng := llm.NewOllamaEngine(cfg.Engine, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !eng.IsHealthy(ctx) {
		return CheckResult{
			Status:  StatusFail,
			Message: "ollama not reachable",
			Fix:     "Start it with 'ollama serve' or set engine.base_url",
		}
	}
	models, err := eng.ListModels(ctx)
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "reachable, but listing models failed: " + err.Error()}
	}
	for _, m := range models {
		if m.Name == cfg.Model.Path || strings.TrimSuffix(m.Name, ":latest") == cfg.Model.Path {
			return CheckResult{Status: StatusPass, Message: "model " + m.Name + " available"}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: fmt.Sprintf("model %q not found (%d installed)", cfg.Model.Path, len(models)),
		Fix:     "Run 'ollama pull " + cfg.Model.Path + "'",
	}
}

func checkHTTP(ctx context.Context, baseURL string) CheckResult {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/models", nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: "invalid base_url: " + err.Error()}
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", baseURL, err),
			Fix:     "Check engine.base_url and that the server is running",
		}
	}
	resp.Body.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", baseURL, time.Since(start).Milliseconds()),
	}
}

func checkScript(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	rt, err := script.Open(cfg.Script, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	defer rt.Close()

	if _, err := rt.Eval(ctx, "get_current_time()"); err != nil {
		return CheckResult{Status: StatusFail, Message: "test script failed: " + err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: rt.Name() + " interpreter ready"}
}
