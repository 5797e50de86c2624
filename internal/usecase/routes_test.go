package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

func TestRouteFilters(t *testing.T) {
	presentation := PresentationFilter()
	inference := InferenceFilter()
	executor := ExecutorFilter("//")

	tests := []struct {
		name                   string
		in                     domain.Message
		wantUI, wantLLM, wantX bool
	}{
		{"user end", msg(domain.RoleUser, domain.End("hi")), false, true, false},
		{"user chunk", msg(domain.RoleUser, domain.Chunk("h")), false, false, false},
		{"assistant start", msg(domain.RoleAssistant, domain.Start()), true, false, false},
		{"assistant chunk", msg(domain.RoleAssistant, domain.Chunk("1+")), true, false, false},
		{"assistant code", msg(domain.RoleAssistant, domain.End("1+1")), true, false, true},
		{"assistant prose", msg(domain.RoleAssistant, domain.End("// just a comment")), true, false, false},
		{"assistant empty", msg(domain.RoleAssistant, domain.End("  \n")), true, false, false},
		{"tool end", msg(domain.RoleTool, domain.End(`{"status":"ok"}`)), true, true, false},
		{"system end", msg(domain.RoleSystem, domain.End("sys")), true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ui := presentation.Filter(tt.in)
			_, llm := inference.Filter(tt.in)
			_, x := executor.Filter(tt.in)
			assert.Equal(t, tt.wantUI, ui, "presentation")
			assert.Equal(t, tt.wantLLM, llm, "inference")
			assert.Equal(t, tt.wantX, x, "executor")
		})
	}
}

func TestInferenceNeverSeesAssistantOutput(t *testing.T) {
	f := InferenceFilter()
	for _, tok := range []domain.Token{domain.Start(), domain.Chunk("a"), domain.End("a")} {
		_, ok := f.Filter(msg(domain.RoleAssistant, tok))
		assert.False(t, ok, "assistant %s", tok)
	}
}

func TestPresentationNeverSeesUserInput(t *testing.T) {
	f := PresentationFilter()
	for _, tok := range []domain.Token{domain.Start(), domain.Chunk("a"), domain.End("a")} {
		_, ok := f.Filter(msg(domain.RoleUser, tok))
		assert.False(t, ok, "user %s", tok)
	}
}

func TestExecutorFilterLuaMarker(t *testing.T) {
	f := ExecutorFilter("--")
	_, ok := f.Filter(msg(domain.RoleAssistant, domain.End("-- prose")))
	assert.False(t, ok)
	_, ok = f.Filter(msg(domain.RoleAssistant, domain.End("// not lua prose")))
	assert.True(t, ok)
}

func TestExecutorFilterUnfences(t *testing.T) {
	f := ExecutorFilter("//")
	out, ok := f.Filter(msg(domain.RoleAssistant, domain.End("```lua\nreturn 1+1\n```")))
	require.True(t, ok)
	assert.Equal(t, "return 1+1", out.Token.Text)

	_, ok = f.Filter(msg(domain.RoleAssistant, domain.End("```\n// prose in a fence\n```")))
	assert.False(t, ok)

	out, ok = f.Filter(msg(domain.RoleAssistant, domain.End("1+1")))
	require.True(t, ok)
	assert.Equal(t, "1+1", out.Token.Text)
}

func TestUnfence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"```\n1+1\n```", "1+1"},
		{"```js\nsend_sms('1', 'x')\n```", "send_sms('1', 'x')"},
		{"```a``` and ```b```", "```a``` and ```b```"},
		{"```inline```", "```inline```"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, unfence(tt.in), tt.in)
	}
}

func TestWireRegistersRoutesInOrder(t *testing.T) {
	bus := eventbus.New(newTestLogger())
	in, err := Wire(bus, "//")
	require.NoError(t, err)
	assert.NotNil(t, in.Presentation)
	assert.NotNil(t, in.Inference)
	assert.NotNil(t, in.Executor)
	assert.Equal(t, []string{ConsumerPresentation, ConsumerInference, ConsumerExecutor}, bus.Topology())

	_, err = Wire(bus, "//")
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestRunsAsScript(t *testing.T) {
	runs := RunsAsScript("//")
	assert.True(t, runs(msg(domain.RoleAssistant, domain.End("1+1"))))
	assert.False(t, runs(msg(domain.RoleAssistant, domain.End("// done"))))
	assert.False(t, runs(msg(domain.RoleAssistant, domain.End("  "))))
	assert.False(t, runs(msg(domain.RoleAssistant, domain.Chunk("1+1"))))
	assert.False(t, runs(msg(domain.RoleTool, domain.End("2"))))
}
