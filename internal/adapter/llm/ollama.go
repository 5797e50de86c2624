package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
	"scriptchat/internal/infra/tracer"
)

var _ domain.InferenceEngine = (*OllamaEngine)(nil)

// Default Ollama timeouts: short connect (local), long response (model loading).
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
	ollamaDefaultBaseURL     = "http://localhost:11434"
)

// OllamaEngine streams from a local Ollama server through its native API.
// Without a template it uses /api/chat and lets the server apply the model's
// chat template. With one, it renders the prompt itself and calls
// /api/generate in raw mode.
type OllamaEngine struct {
	baseURL  string
	template *Template
	client   *http.Client
	logger   *slog.Logger
}

// OllamaModel describes a locally available Ollama model.
type OllamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// NewOllamaEngine creates an Ollama engine. tmpl may be nil.
func NewOllamaEngine(cfg config.EngineConfig, tmpl *Template, logger *slog.Logger) *OllamaEngine {
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = ollamaDefaultRespTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}

	return &OllamaEngine{
		baseURL:  baseURL,
		template: tmpl,
		client:   NewHTTPClient(cfg),
		logger:   logger,
	}
}

// Name implements domain.InferenceEngine.
func (e *OllamaEngine) Name() string { return "ollama" }

// --- Ollama API wire types ---

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	NumBatch    int      `json:"num_batch,omitempty"`
	NumGPU      int      `json:"num_gpu,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

// ollamaStreamChunk covers both endpoints: /api/chat fills Message,
// /api/generate fills Response.
type ollamaStreamChunk struct {
	Message         *ollamaMessage `json:"message,omitempty"`
	Response        string         `json:"response,omitempty"`
	Done            bool           `json:"done"`
	Error           string         `json:"error,omitempty"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
}

func toOllamaOptions(p domain.GenerationParams) ollamaOptions {
	return ollamaOptions{
		Temperature: p.Temperature,
		NumCtx:      p.ContextSize,
		NumBatch:    p.BatchSize,
		NumGPU:      p.GPULayers,
	}
}

// ChatStream implements domain.InferenceEngine.
func (e *OllamaEngine) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	mode := "chat"
	if e.template != nil {
		mode = "raw:" + e.template.Name
	}
	_, span := tracer.StartSpan(ctx, "llm.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", e.Name()),
			tracer.StringAttr("llm.model", req.Model),
			tracer.StringAttr("llm.mode", mode),
			tracer.IntAttr("llm.turns", len(req.Turns)),
		),
	)
	defer span.End()

	url, payload := e.buildRequest(req)
	httpResp, err := doStreamRequest(ctx, e.client, url, payload, "application/x-ndjson", nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	return parseNDJSONStream(ctx, httpResp.Body, parseOllamaChunk), nil
}

func (e *OllamaEngine) buildRequest(req domain.ChatRequest) (string, any) {
	opts := toOllamaOptions(req.Params)

	if e.template != nil {
		opts.Stop = e.template.Stop
		return e.baseURL + "/api/generate", ollamaGenerateRequest{
			Model:   req.Model,
			Prompt:  e.template.Render(req.Turns),
			Raw:     true,
			Stream:  true,
			Options: opts,
		}
	}

	msgs := make([]ollamaMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		msgs = append(msgs, ollamaMessage{Role: string(t.Role), Content: t.Text})
	}
	return e.baseURL + "/api/chat", ollamaChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
		Options:  opts,
	}
}

func parseOllamaChunk(data []byte) (*domain.StreamDelta, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: decode chunk: %w", domain.ErrProviderError, err)
	}
	if chunk.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderError, chunk.Error)
	}

	delta := &domain.StreamDelta{Content: chunk.Response, Done: chunk.Done}
	if chunk.Message != nil {
		delta.Content = chunk.Message.Content
	}
	if chunk.Done {
		delta.Usage = &domain.Usage{
			PromptTokens:     chunk.PromptEvalCount,
			CompletionTokens: chunk.EvalCount,
			TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
		}
	}
	return delta, nil
}

// ListModels returns the locally available Ollama models.
func (e *OllamaEngine) ListModels(ctx context.Context) ([]OllamaModel, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrProviderError, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, body)
	}

	var resp struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Models, nil
}

// IsHealthy checks if the Ollama server is reachable.
func (e *OllamaEngine) IsHealthy(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/", nil)
	if err != nil {
		return false
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return false
	}
	httpResp.Body.Close()

	return httpResp.StatusCode == http.StatusOK
}

// Warmup asks the server to load model so the first turn does not pay the
// load latency.
func (e *OllamaEngine) Warmup(ctx context.Context, model string) error {
	if !e.IsHealthy(ctx) {
		return fmt.Errorf("%w: ollama server not reachable at %s", domain.ErrProviderError, e.baseURL)
	}

	e.logger.Info("warming up model", "model", model, "base_url", e.baseURL)

	payload := map[string]any{"model": model, "keep_alive": "5m"}
	httpResp, err := doStreamRequest(ctx, e.client, e.baseURL+"/api/generate", payload, "", nil)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)

	e.logger.Info("model warmed up", "model", model)
	return nil
}
