package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

// --- Mocks ---

// mockEngine replays scripted replies, one per call. A reply is streamed as
// its fragments followed by a Done delta carrying final.
type mockEngine struct {
	mu       sync.Mutex
	replies  []mockReply
	calls    int
	requests []domain.ChatRequest
	startErr error
}

type mockReply struct {
	fragments []string
	final     string
	err       error // sent as the last delta instead of Done
	truncated bool  // close the stream with neither Done nor Err
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.startErr != nil {
		return nil, m.startErr
	}
	reply := mockReply{final: "fallback", fragments: []string{"fallback"}}
	if m.calls < len(m.replies) {
		reply = m.replies[m.calls]
	}
	m.calls++

	ch := make(chan domain.StreamDelta, len(reply.fragments)+1)
	for _, f := range reply.fragments {
		ch <- domain.StreamDelta{Content: f}
	}
	switch {
	case reply.truncated:
	case reply.err != nil:
		ch <- domain.StreamDelta{Err: reply.err}
	default:
		ch <- domain.StreamDelta{Done: true, Final: reply.final}
	}
	close(ch)
	return ch, nil
}

func (m *mockEngine) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// mockInterpreter maps code to canned results.
type mockInterpreter struct {
	results map[string]string
	block   bool // wait for ctx instead of answering
}

func (m *mockInterpreter) Name() string          { return "mock" }
func (m *mockInterpreter) CommentMarker() string { return "//" }
func (m *mockInterpreter) Close() error          { return nil }

func (m *mockInterpreter) Eval(ctx context.Context, code string) (string, error) {
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if out, ok := m.results[code]; ok {
		return out, nil
	}
	return "", errors.New("unknown identifier: " + code)
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (p *recordingPublisher) Publish(msg domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPublisher) Messages() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.Default()
}

// feedInbox registers a single accept-all consumer, publishes msgs, and shuts
// the bus down once they are delivered, so the returned inbox yields msgs then
// ErrClosed.
func feedInbox(t *testing.T, msgs ...domain.Message) *eventbus.Inbox {
	t.Helper()
	bus := eventbus.New(newTestLogger())
	in, err := bus.Register("test", eventbus.Accept)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(context.Background())
	}()
	for _, m := range msgs {
		bus.Publish(m)
	}
	require.Eventually(t, func() bool { return in.Len() == len(msgs) }, 2*time.Second, 5*time.Millisecond)
	bus.Shutdown()
	<-done
	return in
}

// collect reads from in until n messages arrived or the deadline passes.
func collect(t *testing.T, in *eventbus.Inbox, n int) []domain.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []domain.Message
	for len(out) < n {
		msg, err := in.Recv(ctx)
		if err != nil {
			t.Fatalf("after %d of %d messages: %v", len(out), n, err)
		}
		out = append(out, msg)
	}
	return out
}

func msg(role domain.Role, tok domain.Token) domain.Message {
	return domain.NewMessage(role, tok)
}
