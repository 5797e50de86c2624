package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptchat/internal/adapter/llm"
	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
	"scriptchat/internal/usecase/eventbus"
)

func newTestAdapter(t *testing.T, engine domain.InferenceEngine, pub domain.Publisher, msgs ...domain.Message) *InferenceAdapter {
	t.Helper()
	return NewInferenceAdapter(InferenceDeps{
		Inbox:     feedInbox(t, msgs...),
		Publisher: pub,
		Engine:    engine,
		Logger:    newTestLogger(),
	})
}

func TestInferenceStreamsTurn(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{{fragments: []string{"he", "llo"}, final: "hello"}}}
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, []domain.Message{
		msg(domain.RoleAssistant, domain.Start()),
		msg(domain.RoleAssistant, domain.Chunk("he")),
		msg(domain.RoleAssistant, domain.Chunk("llo")),
		msg(domain.RoleAssistant, domain.End("hello")),
	}, pub.Messages())
}

func TestInferenceTranscriptGrows(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{
		{fragments: []string{"1+1"}, final: "1+1"},
		{fragments: []string{"// two"}, final: "// two"},
	}}
	a := NewInferenceAdapter(InferenceDeps{
		Inbox:      feedInbox(t, msg(domain.RoleUser, domain.End("add")), msg(domain.RoleTool, domain.End("2"))),
		Publisher:  pub,
		Engine:     engine,
		Transcript: NewTranscript([]domain.Turn{{Role: domain.RoleSystem, Text: "be brief"}}),
		Model:      "llama3",
		Params:     domain.GenerationParams{Temperature: 0.2, ContextSize: 4096, BatchSize: 512, GPULayers: 33},
		Logger:     newTestLogger(),
	})

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleSystem, Text: "be brief"},
		{Role: domain.RoleUser, Text: "add"},
		{Role: domain.RoleAssistant, Text: "1+1"},
		{Role: domain.RoleTool, Text: "2"},
		{Role: domain.RoleAssistant, Text: "// two"},
	}, a.Transcript().Turns())

	reqs := engine.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Turns, 2, "first request sees seed and input")
	assert.Len(t, reqs[1].Turns, 4)
	assert.Equal(t, "llama3", reqs[1].Model)
	assert.Equal(t, 4096, reqs[1].Params.ContextSize)
	assert.Equal(t, 33, reqs[1].Params.GPULayers)
}

func TestInferenceEndWithoutChunks(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{{final: "whole"}}}
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, []domain.Message{
		msg(domain.RoleAssistant, domain.Start()),
		msg(domain.RoleAssistant, domain.End("whole")),
	}, pub.Messages())
}

func TestInferenceEndFallsBackToChunks(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{{fragments: []string{"a", "b", "c"}}}}
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	require.NoError(t, a.Run(context.Background()))

	got := pub.Messages()
	require.Len(t, got, 5)
	assert.Equal(t, domain.End("abc"), got[4].Token)
}

func TestInferenceFinalTextWins(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{{fragments: []string{"hel"}, final: "hello"}}}
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	require.NoError(t, a.Run(context.Background()))

	got := pub.Messages()
	assert.Equal(t, domain.End("hello"), got[len(got)-1].Token)
}

func TestInferenceEngineStartErrorIsFatal(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{startErr: errors.New("connection refused")}
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, pub.Messages())
}

func TestInferenceMidStreamErrorIsFatal(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{
		{fragments: []string{"par"}, err: errors.New("stream reset")},
		{fragments: []string{"never"}, final: "never"},
	}}
	a := newTestAdapter(t, engine, pub,
		msg(domain.RoleUser, domain.End("one")),
		msg(domain.RoleUser, domain.End("two")),
	)

	err := a.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrProviderError)

	assert.Len(t, engine.Requests(), 1, "failed generation is not retried")
	for _, m := range pub.Messages() {
		assert.False(t, m.Token.IsEnd(), "no End after a failed generation")
	}
}

func TestInferenceTruncatedStreamIsFatal(t *testing.T) {
	pub := &recordingPublisher{}
	engine := &mockEngine{replies: []mockReply{{fragments: []string{"ret"}, truncated: true}}}
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	err := a.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrProviderError)

	assert.Equal(t, []domain.Message{
		msg(domain.RoleAssistant, domain.Start()),
		msg(domain.RoleAssistant, domain.Chunk("ret")),
	}, pub.Messages())
	assert.Equal(t, 1, a.Transcript().Len(), "partial reply is not recorded")
}

func TestInferenceOllamaConnectionClosedMidReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"ret"},"done":false}`)
	}))
	defer server.Close()

	pub := &recordingPublisher{}
	engine := llm.NewOllamaEngine(config.EngineConfig{BaseURL: server.URL}, nil, newTestLogger())
	a := newTestAdapter(t, engine, pub, msg(domain.RoleUser, domain.End("hi")))

	err := a.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrProviderError)
	assert.ErrorIs(t, err, llm.ErrStreamTruncated)
	for _, m := range pub.Messages() {
		assert.False(t, m.Token.IsEnd(), "no End for a cut-off reply")
	}
	assert.Equal(t, 1, a.Transcript().Len())
}

func TestInferenceClosedInboxReturnsNil(t *testing.T) {
	a := newTestAdapter(t, &mockEngine{}, &recordingPublisher{})
	assert.NoError(t, a.Run(context.Background()))
}

func TestInferenceEnvelope(t *testing.T) {
	engine := &mockEngine{replies: []mockReply{{final: "ok"}, {final: "ok"}}}
	a := NewInferenceAdapter(InferenceDeps{
		Inbox: feedInbox(t,
			msg(domain.RoleUser, domain.End("hi <there>")),
			msg(domain.RoleTool, domain.End(`{"status":"ok"}`)),
		),
		Publisher: &recordingPublisher{},
		Engine:    engine,
		Envelope:  true,
		Logger:    newTestLogger(),
	})

	require.NoError(t, a.Run(context.Background()))

	turns := a.Transcript().Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Text: `{"role":"user","message":"hi <there>"}`}, turns[0])
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Text: `{"role":"tool","message":{"status":"ok"}}`}, turns[2])
}

func TestToolEnvelopeQuotesNonJSON(t *testing.T) {
	assert.Equal(t, `{"role":"tool","message":"plain text"}`, ToolEnvelope("plain text"))
	assert.Equal(t, `{"role":"tool","message":2}`, ToolEnvelope("2"))
}

func TestInferenceReturnsOnContextCancel(t *testing.T) {
	bus := eventbus.New(newTestLogger())
	in, err := bus.Register(ConsumerInference, InferenceFilter())
	require.NoError(t, err)
	a := NewInferenceAdapter(InferenceDeps{
		Inbox:     in,
		Publisher: &recordingPublisher{},
		Engine:    &mockEngine{},
		Logger:    newTestLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}
