// Command scriptchat is a terminal chat with a local model whose replies are
// run as scripts.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scriptchat/internal/adapter/tui/uxerror"
	"scriptchat/internal/infra/config"
)

// flags holds the command line overrides. Only flags the user set are applied.
type flags struct {
	configPath  string
	model       string
	prompt      string
	template    string
	ctxSize     int
	batchSize   int
	gpuLayers   int
	temperature float64
	engine      string
	provider    string
	ui          string
	logLevel    string
}

var opts flags

var rootCmd = &cobra.Command{
	Use:   "scriptchat",
	Short: "Chat with a local model that answers in scripts",
	Long: `scriptchat streams replies from a local inference engine and runs each
completed reply as a script. Script results are fed back to the model as tool
turns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), cfg)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", defaultConfigPath(), "Path to config.yaml")
	pf.StringVar(&opts.model, "model", "", "Model file path or served model name")
	pf.StringVar(&opts.prompt, "prompt", "", "Prompt file seeding the transcript")
	pf.StringVar(&opts.template, "template", "", "Prompt template (llama3, chatml, gemma, mistral, none)")
	pf.IntVar(&opts.ctxSize, "ctx-size", 0, "Context window size in tokens")
	pf.IntVar(&opts.batchSize, "batch-size", 0, "Prompt batch size")
	pf.IntVar(&opts.gpuLayers, "gpu-layers", 0, "Layers offloaded to the GPU")
	pf.Float64Var(&opts.temperature, "temperature", 0, "Sampling temperature")
	pf.StringVar(&opts.engine, "engine", "", "Script interpreter (lua, expr)")
	pf.StringVar(&opts.provider, "provider", "", "Inference engine (ollama, openai, echo)")
	pf.StringVar(&opts.ui, "ui", "", "Presentation (tui, console)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
		}
		os.Exit(1)
	}
}

// defaultConfigPath honours SCRIPTCHAT_CONFIG, then ./config.yaml.
func defaultConfigPath() string {
	if p := os.Getenv("SCRIPTCHAT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig reads the config file and applies flags the user set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("model") {
		cfg.Model.Path = opts.model
	}
	if set("prompt") {
		cfg.Prompt.Path = opts.prompt
	}
	if set("template") {
		cfg.Model.Template = opts.template
	}
	if set("ctx-size") {
		cfg.Model.ContextSize = opts.ctxSize
	}
	if set("batch-size") {
		cfg.Model.BatchSize = opts.batchSize
	}
	if set("gpu-layers") {
		cfg.Model.GPULayers = opts.gpuLayers
	}
	if set("temperature") {
		cfg.Model.Temperature = opts.temperature
	}
	if set("engine") {
		cfg.Script.Engine = opts.engine
	}
	if set("provider") {
		cfg.Engine.Provider = opts.provider
	}
	if set("ui") {
		cfg.UI.Mode = opts.ui
	}
	if set("log-level") {
		cfg.Logger.Level = opts.logLevel
	}
}
