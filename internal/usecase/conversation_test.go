package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"scriptchat/internal/adapter/llm"
	"scriptchat/internal/adapter/script"
	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

// TestConversationLoop drives the full actor graph: the model answers with
// code, the executor runs it, and the model replies to the result with prose
// that the executor ignores.
func TestConversationLoop(t *testing.T) {
	bus := eventbus.New(newTestLogger())
	inboxes, err := Wire(bus, "//")
	require.NoError(t, err)

	engine := &mockEngine{replies: []mockReply{
		{fragments: []string{"1+", "1"}, final: "1+1"},
		{fragments: []string{"// the answer is 2"}, final: "// the answer is 2"},
	}}
	adapter := NewInferenceAdapter(InferenceDeps{
		Inbox:     inboxes.Inference,
		Publisher: bus,
		Engine:    engine,
		Logger:    newTestLogger(),
	})
	exec := NewScriptExecutor(ExecutorDeps{
		Inbox:       inboxes.Executor,
		Publisher:   bus,
		Interpreter: &mockInterpreter{results: map[string]string{"1+1": "2"}},
		Logger:      newTestLogger(),
	})

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return bus.Run(ctx) })
	g.Go(func() error { return adapter.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })

	bus.Publish(domain.NewMessage(domain.RoleUser, domain.End("what is 1+1?")))

	want := []domain.Message{
		msg(domain.RoleAssistant, domain.Start()),
		msg(domain.RoleAssistant, domain.Chunk("1+")),
		msg(domain.RoleAssistant, domain.Chunk("1")),
		msg(domain.RoleAssistant, domain.End("1+1")),
		msg(domain.RoleTool, domain.End("2")),
		msg(domain.RoleAssistant, domain.Start()),
		msg(domain.RoleAssistant, domain.Chunk("// the answer is 2")),
		msg(domain.RoleAssistant, domain.End("// the answer is 2")),
	}
	got := collect(t, inboxes.Presentation, len(want))
	assert.Equal(t, want, got)

	// Nothing else is in flight: prose is never evaluated.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, inboxes.Presentation.Len())
	assert.Len(t, engine.Requests(), 2)

	bus.Shutdown()
	require.NoError(t, g.Wait())
}

// TestCommentIsNotEvaluated publishes prose directly and checks that no tool
// turn appears.
func TestCommentIsNotEvaluated(t *testing.T) {
	bus := eventbus.New(newTestLogger())
	inboxes, err := Wire(bus, "//")
	require.NoError(t, err)
	exec := NewScriptExecutor(ExecutorDeps{
		Inbox:       inboxes.Executor,
		Publisher:   bus,
		Interpreter: &mockInterpreter{},
		Logger:      newTestLogger(),
	})

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return bus.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })

	bus.Publish(domain.NewMessage(domain.RoleAssistant, domain.End("// just a comment")))

	got := collect(t, inboxes.Presentation, 1)
	assert.Equal(t, domain.End("// just a comment"), got[0].Token)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, inboxes.Presentation.Len(), "no tool turn published")
	assert.Zero(t, inboxes.Inference.Len())

	bus.Shutdown()
	require.NoError(t, g.Wait())
}

// TestEchoConversationSettles runs the echo engine against a real expr
// interpreter: the echoed line fails to evaluate, the error result gets an
// empty reply, and the conversation stops there.
func TestEchoConversationSettles(t *testing.T) {
	bus := eventbus.New(newTestLogger())
	interp := script.NewExprInterpreter(script.NewHost(0, nil, newTestLogger()))
	inboxes, err := Wire(bus, interp.CommentMarker())
	require.NoError(t, err)

	adapter := NewInferenceAdapter(InferenceDeps{
		Inbox:     inboxes.Inference,
		Publisher: bus,
		Engine:    llm.NewEchoEngine(0),
		Logger:    newTestLogger(),
	})
	exec := NewScriptExecutor(ExecutorDeps{
		Inbox:       inboxes.Executor,
		Publisher:   bus,
		Interpreter: interp,
		Logger:      newTestLogger(),
	})

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return bus.Run(ctx) })
	g.Go(func() error { return adapter.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })

	bus.Publish(domain.NewMessage(domain.RoleUser, domain.End("hello world")))

	got := collect(t, inboxes.Presentation, 7)
	assert.Equal(t, domain.End("hello world"), got[3].Token)
	assert.Equal(t, domain.RoleTool, got[4].Role)
	assert.Contains(t, got[4].Token.Text, `"status":"error"`)
	assert.Equal(t, msg(domain.RoleAssistant, domain.End("")), got[6])

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, inboxes.Presentation.Len(), "conversation settled")

	bus.Shutdown()
	require.NoError(t, g.Wait())
	assert.Equal(t, 4, adapter.Transcript().Len())
}
