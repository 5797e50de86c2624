package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

func newTestExecutor(t *testing.T, interp domain.Interpreter, pub domain.Publisher, msgs ...domain.Message) *ScriptExecutor {
	t.Helper()
	return NewScriptExecutor(ExecutorDeps{
		Inbox:       feedInbox(t, msgs...),
		Publisher:   pub,
		Interpreter: interp,
		Logger:      newTestLogger(),
	})
}

func TestExecutorPublishesResult(t *testing.T) {
	pub := &recordingPublisher{}
	interp := &mockInterpreter{results: map[string]string{"1+1": "2"}}
	exec := newTestExecutor(t, interp, pub, msg(domain.RoleAssistant, domain.End("1+1")))

	require.NoError(t, exec.Run(context.Background()))

	assert.Equal(t, []domain.Message{msg(domain.RoleTool, domain.End("2"))}, pub.Messages())
}

func TestExecutorPublishesErrorEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	exec := newTestExecutor(t, &mockInterpreter{}, pub, msg(domain.RoleAssistant, domain.End("nope()")))

	require.NoError(t, exec.Run(context.Background()))

	got := pub.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, domain.RoleTool, got[0].Role)
	assert.True(t, got[0].Token.IsEnd())

	var env map[string]string
	require.NoError(t, json.Unmarshal([]byte(got[0].Token.Text), &env))
	assert.Equal(t, "error", env["status"])
	assert.Equal(t, "unknown identifier: nope()", env["error"])
}

func TestExecutorProcessesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	interp := &mockInterpreter{results: map[string]string{"a": `"A"`, "b": `"B"`}}
	exec := newTestExecutor(t, interp, pub,
		msg(domain.RoleAssistant, domain.End("a")),
		msg(domain.RoleAssistant, domain.End("b")),
	)

	require.NoError(t, exec.Run(context.Background()))

	got := pub.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, `"A"`, got[0].Token.Text)
	assert.Equal(t, `"B"`, got[1].Token.Text)
}

func TestExecutorTimeout(t *testing.T) {
	exec := NewScriptExecutor(ExecutorDeps{
		Interpreter: &mockInterpreter{block: true},
		Timeout:     20 * time.Millisecond,
		Logger:      newTestLogger(),
	})

	out := exec.Evaluate(context.Background(), "while true do end")

	var env map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, "error", env["status"])
	assert.Contains(t, env["error"], "timed out")
}

func TestExecutorReturnsOnContextCancel(t *testing.T) {
	bus := eventbus.New(newTestLogger())
	in, err := bus.Register(ConsumerExecutor, ExecutorFilter("//"))
	require.NoError(t, err)
	exec := NewScriptExecutor(ExecutorDeps{
		Inbox:       in,
		Publisher:   &recordingPublisher{},
		Interpreter: &mockInterpreter{},
		Logger:      newTestLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, exec.Run(ctx))
}

func TestExecutorCancelledScriptPublishesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	exec := NewScriptExecutor(ExecutorDeps{
		Inbox:       feedInbox(t, msg(domain.RoleAssistant, domain.End("loop()"))),
		Publisher:   pub,
		Interpreter: &mockInterpreter{block: true},
		Timeout:     time.Hour,
		Logger:      newTestLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	require.NoError(t, exec.Run(ctx))
	assert.Empty(t, pub.Messages(), "an interrupted script yields no tool turn")
}

func TestErrorEnvelope(t *testing.T) {
	assert.Equal(t, `{"status":"error","error":"boom"}`, ErrorEnvelope(errors.New("boom")))
	assert.Equal(t, `{"status":"error","error":"a < b"}`, ErrorEnvelope(errors.New("a < b")))
}

func TestDefaultTimeoutApplied(t *testing.T) {
	exec := NewScriptExecutor(ExecutorDeps{Interpreter: &mockInterpreter{}, Logger: newTestLogger()})
	assert.Equal(t, DefaultScriptTimeout, exec.deps.Timeout)
}
