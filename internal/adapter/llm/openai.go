package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
	"scriptchat/internal/infra/tracer"
)

var _ domain.InferenceEngine = (*OpenAIEngine)(nil)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIEngine streams completions from any OpenAI-compatible
// /chat/completions endpoint (llama.cpp server, vLLM, LM Studio, OpenAI).
type OpenAIEngine struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIEngine creates an engine with configured timeouts.
func NewOpenAIEngine(cfg config.EngineConfig, logger *slog.Logger) *OpenAIEngine {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}

	return &OpenAIEngine{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.InferenceEngine.
func (e *OpenAIEngine) Name() string { return "openai" }

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Temperature   float64              `json:"temperature"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// toOpenAIRequest converts a domain request. The chat completions API has no
// free-standing tool role, so script results are sent as user turns.
func toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := string(t.Role)
		if t.Role == domain.RoleTool {
			role = string(domain.RoleUser)
		}
		msgs = append(msgs, openaiMessage{Role: role, Content: t.Text})
	}

	return openaiRequest{
		Model:         req.Model,
		Messages:      msgs,
		Temperature:   req.Params.Temperature,
		Stream:        true,
		StreamOptions: &openaiStreamOptions{IncludeUsage: true},
	}
}

// ChatStream implements domain.InferenceEngine.
func (e *OpenAIEngine) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	_, span := tracer.StartSpan(ctx, "llm.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", e.Name()),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.turns", len(req.Turns)),
		),
	)
	defer span.End()

	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	httpResp, err := doStreamRequest(ctx, e.client, e.baseURL+"/chat/completions",
		toOpenAIRequest(req), "text/event-stream", headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	return parseSSEStream(ctx, httpResp.Body, parseOpenAIChunk), nil
}

// parseOpenAIChunk converts one SSE data payload. The finish_reason chunk is
// not terminal on its own: the usage chunk and [DONE] may still follow.
func parseOpenAIChunk(data []byte) (*domain.StreamDelta, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: decode chunk: %w", domain.ErrProviderError, err)
	}
	if chunk.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderError, chunk.Error.Message)
	}

	delta := &domain.StreamDelta{}
	if len(chunk.Choices) > 0 {
		delta.Content = chunk.Choices[0].Delta.Content
	}
	if chunk.Usage != nil {
		delta.Usage = &domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if delta.Content == "" && delta.Usage == nil {
		return nil, nil
	}
	return delta, nil
}
