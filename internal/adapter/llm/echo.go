package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"scriptchat/internal/domain"
)

var _ domain.InferenceEngine = (*EchoEngine)(nil)

// EchoEngine streams the last user turn back word by word. It needs no model
// and is used for offline runs and tests. Tool results get an empty reply, so
// an echoed script never feeds itself.
type EchoEngine struct {
	delay time.Duration
}

// NewEchoEngine creates an echo engine that waits delay between fragments.
func NewEchoEngine(delay time.Duration) *EchoEngine {
	return &EchoEngine{delay: delay}
}

// Name implements domain.InferenceEngine.
func (e *EchoEngine) Name() string { return "echo" }

// ChatStream implements domain.InferenceEngine.
func (e *EchoEngine) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var text string
	if n := len(req.Turns); n > 0 {
		text = echoText(req.Turns[n-1])
	}
	words := strings.SplitAfter(text, " ")

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		for _, w := range words {
			if w == "" {
				continue
			}
			if e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					return
				}
			}
			if !emit(ctx, ch, domain.StreamDelta{Content: w}) {
				return
			}
		}
		emit(ctx, ch, domain.StreamDelta{
			Done:  true,
			Final: text,
			Usage: &domain.Usage{CompletionTokens: len(words), TotalTokens: len(words)},
		})
	}()
	return ch, nil
}

// echoText returns what the echo engine answers to turn. Enveloped user input
// ({"role":"user","message":...}) is unwrapped; tool results, enveloped or
// not, get no answer.
func echoText(turn domain.Turn) string {
	if turn.Role != domain.RoleUser {
		return ""
	}
	var env struct {
		Role    string          `json:"role"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal([]byte(turn.Text), &env); err != nil {
		return turn.Text
	}
	switch env.Role {
	case string(domain.RoleTool):
		return ""
	case string(domain.RoleUser):
		var msg string
		if json.Unmarshal(env.Message, &msg) == nil {
			return msg
		}
	}
	return turn.Text
}
