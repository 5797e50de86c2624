package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/tracer"
	"scriptchat/internal/usecase/eventbus"
)

// InferenceDeps groups the collaborators of an InferenceAdapter.
type InferenceDeps struct {
	Inbox      *eventbus.Inbox
	Publisher  domain.Publisher
	Engine     domain.InferenceEngine
	Transcript *Transcript
	Model      string
	Params     domain.GenerationParams
	// Envelope wraps input as {"role":...,"message":...} before the engine
	// sees it, and presents tool results as user turns.
	Envelope bool
	Logger   *slog.Logger
}

// InferenceAdapter turns completed user and tool turns into streamed
// assistant turns. It owns the transcript.
type InferenceAdapter struct {
	deps InferenceDeps
}

// NewInferenceAdapter creates an adapter. A nil transcript starts empty.
func NewInferenceAdapter(deps InferenceDeps) *InferenceAdapter {
	if deps.Transcript == nil {
		deps.Transcript = NewTranscript(nil)
	}
	return &InferenceAdapter{deps: deps}
}

// Transcript returns the adapter's transcript. Callers must not use it while
// Run is active.
func (a *InferenceAdapter) Transcript() *Transcript { return a.deps.Transcript }

// Run handles one turn at a time. It returns nil when the inbox closes or ctx
// is done, and the engine's error when a generation fails.
func (a *InferenceAdapter) Run(ctx context.Context) error {
	log := a.deps.Logger.With("component", ConsumerInference, "engine", a.deps.Engine.Name())
	log.Debug("inference adapter started", "seed_turns", a.deps.Transcript.Len())
	defer log.Debug("inference adapter stopped")

	for {
		msg, err := a.deps.Inbox.Recv(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("inference receive: %w", err)
		}
		if err := a.Turn(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("generation failed", "code", domain.ErrorCodeOf(err), "error", err)
			return err
		}
	}
}

// Turn appends msg to the transcript, streams a generation as Start,
// Chunk... and End, then appends the generated text as an assistant turn.
func (a *InferenceAdapter) Turn(ctx context.Context, msg domain.Message) error {
	turnID := generateULID(time.Now())
	log := a.deps.Logger.With("turn", turnID)

	ctx, span := tracer.StartSpan(ctx, "inference.turn")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("turn.id", turnID),
		tracer.StringAttr("turn.input_role", string(msg.Role)),
		tracer.StringAttr("inference.engine", a.deps.Engine.Name()),
	)

	in := a.inputTurn(msg)
	a.deps.Transcript.Append(in.Role, in.Text)

	req := domain.ChatRequest{
		Model:  a.deps.Model,
		Turns:  a.deps.Transcript.Turns(),
		Params: a.deps.Params,
	}
	span.SetAttributes(tracer.IntAttr("transcript.turns", len(req.Turns)))

	start := time.Now()
	deltaCh, err := a.deps.Engine.ChatStream(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return providerError(turnID, err)
	}

	a.deps.Publisher.Publish(domain.NewMessage(domain.RoleAssistant, domain.Start()))

	var acc strings.Builder
	var final string
	var usage *domain.Usage
	chunks := 0
	done := false
	for delta := range deltaCh {
		if delta.Err != nil {
			tracer.RecordError(span, delta.Err)
			return providerError(turnID, delta.Err)
		}
		if delta.Content != "" {
			acc.WriteString(delta.Content)
			chunks++
			a.deps.Publisher.Publish(domain.NewMessage(domain.RoleAssistant, domain.Chunk(delta.Content)))
		}
		if delta.Usage != nil {
			usage = delta.Usage
		}
		if delta.Done {
			final = delta.Final
			done = true
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// A partial reply is never published as a finished turn.
	if !done {
		tracer.RecordError(span, errStreamIncomplete)
		return providerError(turnID, errStreamIncomplete)
	}

	full := acc.String()
	if final != "" {
		if final != full {
			log.Warn("final text differs from streamed chunks",
				"streamed_len", len(full),
				"final_len", len(final),
			)
		}
		full = final
	}

	a.deps.Publisher.Publish(domain.NewMessage(domain.RoleAssistant, domain.End(full)))
	a.deps.Transcript.Append(domain.RoleAssistant, full)

	tracer.SetOK(span)
	attrs := []any{
		"input_role", string(msg.Role),
		"chunks", chunks,
		"output_len", len(full),
		"transcript_turns", a.deps.Transcript.Len(),
		"duration", time.Since(start),
	}
	if usage != nil {
		attrs = append(attrs,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
		)
	}
	log.Info("turn completed", attrs...)
	return nil
}

// inputTurn converts a received message into the transcript entry the engine
// will see.
func (a *InferenceAdapter) inputTurn(msg domain.Message) domain.Turn {
	text := msg.Token.Text
	if !a.deps.Envelope {
		return domain.Turn{Role: msg.Role, Text: text}
	}
	if msg.Role == domain.RoleTool {
		return domain.Turn{Role: domain.RoleUser, Text: ToolEnvelope(text)}
	}
	return domain.Turn{Role: msg.Role, Text: UserEnvelope(text)}
}

type inputEnvelope struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// UserEnvelope renders text as {"role":"user","message":text}.
func UserEnvelope(text string) string {
	return encodeJSON(inputEnvelope{Role: string(domain.RoleUser), Message: text})
}

// ToolEnvelope renders a tool result as {"role":"tool","message":result}.
// A result that is already JSON is embedded as-is; anything else is quoted.
func ToolEnvelope(result string) string {
	raw := json.RawMessage(result)
	if !json.Valid(raw) {
		raw = json.RawMessage(encodeJSON(result))
	}
	return encodeJSON(struct {
		Role    string          `json:"role"`
		Message json.RawMessage `json:"message"`
	}{Role: string(domain.RoleTool), Message: raw})
}

// encodeJSON marshals v without HTML escaping, so code and prose reach the
// model verbatim.
func encodeJSON(v any) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

var errStreamIncomplete = errors.New("engine stream closed before completion")

func providerError(turnID string, err error) error {
	if errors.Is(err, domain.ErrProviderError) {
		return fmt.Errorf("inference turn %s: %w", turnID, err)
	}
	return fmt.Errorf("inference turn %s: %w: %w", turnID, domain.ErrProviderError, err)
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
