package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"scriptchat/internal/domain"
)

// ErrStarted is returned by Register once the dispatch loop has begun, and
// by a second call to Run.
var ErrStarted = errors.New("eventbus: dispatch loop already started")

type consumer struct {
	name   string
	filter Filter
	outbox *queue[domain.Message]
}

// Stats are cumulative dispatch counters.
type Stats struct {
	Published     uint64
	Delivered     uint64
	Filtered      uint64
	Undeliverable uint64
}

// Bus is an in-process publish/subscribe hub. Producers Publish onto a single
// unbounded intake queue; Run fans each message out through every consumer's
// filter, in registration order, onto that consumer's own unbounded outbox.
type Bus struct {
	mu        sync.Mutex
	consumers []consumer
	started   bool

	intake   *queue[domain.Message]
	shutdown chan struct{}
	once     sync.Once
	logger   *slog.Logger

	published     atomic.Uint64
	delivered     atomic.Uint64
	filtered      atomic.Uint64
	undeliverable atomic.Uint64
}

// New creates a bus. Consumers must Register before Run is called.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		intake:   newQueue[domain.Message](),
		shutdown: make(chan struct{}),
		logger:   logger,
	}
}

// Register adds a named consumer and returns its inbox.
func (b *Bus) Register(name string, f Filter) (*Inbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil, fmt.Errorf("register %q: %w", name, ErrStarted)
	}
	for _, c := range b.consumers {
		if c.name == name {
			return nil, fmt.Errorf("register %q: %w", name, domain.ErrDuplicate)
		}
	}
	q := newQueue[domain.Message]()
	b.consumers = append(b.consumers, consumer{name: name, filter: f, outbox: q})
	return &Inbox{name: name, q: q}, nil
}

// Publish enqueues msg for dispatch. It never blocks. After shutdown the
// message is dropped.
func (b *Bus) Publish(msg domain.Message) {
	if !b.intake.push(msg) {
		b.logger.Debug("publish after shutdown dropped", "message", msg.String())
		return
	}
	b.published.Add(1)
}

// Run is the dispatch loop. It returns nil when Shutdown is called or ctx is
// cancelled; messages still on the intake queue are abandoned. Every outbox is
// closed on return, so consumers drain what was delivered and then observe
// ErrClosed.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrStarted
	}
	b.started = true
	consumers := make([]consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	defer func() {
		b.Shutdown()
		for _, c := range consumers {
			c.outbox.close()
		}
		st := b.Stats()
		b.logger.Debug("bus stopped",
			"published", st.Published,
			"delivered", st.Delivered,
			"filtered", st.Filtered,
			"undeliverable", st.Undeliverable,
		)
	}()

	b.logger.Debug("bus started", "consumers", names(consumers))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Shutdown discards the intake, which wakes pop with ErrClosed.
		msg, err := b.intake.pop(ctx)
		if err != nil {
			return nil
		}
		b.dispatch(consumers, msg)
	}
}

func (b *Bus) dispatch(consumers []consumer, msg domain.Message) {
	for _, c := range consumers {
		out, ok := b.apply(c, msg)
		if !ok {
			b.filtered.Add(1)
			continue
		}
		if !c.outbox.push(out) {
			b.undeliverable.Add(1)
			b.logger.Debug("consumer gone, message skipped",
				"consumer", c.name,
				"message", out.String(),
			)
			continue
		}
		b.delivered.Add(1)
	}
}

// apply runs a filter, treating a panic as a drop for that consumer only.
func (b *Bus) apply(c consumer, msg domain.Message) (out domain.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("filter panicked",
				"consumer", c.name,
				"message", msg.String(),
				"panic", r,
			)
			out, ok = domain.Message{}, false
		}
	}()
	return c.filter.Filter(msg)
}

// Shutdown signals the dispatch loop to stop and rejects further publishes.
// It is idempotent.
func (b *Bus) Shutdown() {
	b.once.Do(func() {
		if n := b.intake.discard(); n > 0 {
			b.logger.Debug("abandoned undispatched messages", "count", n)
		}
		close(b.shutdown)
	})
}

// Done is closed once Shutdown has been called.
func (b *Bus) Done() <-chan struct{} { return b.shutdown }

// Topology returns the consumer names in delivery order.
func (b *Bus) Topology() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return names(b.consumers)
}

// Stats returns a snapshot of the dispatch counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Filtered:      b.filtered.Load(),
		Undeliverable: b.undeliverable.Load(),
	}
}

func names(cs []consumer) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.name
	}
	return out
}

// Inbox is a consumer's receiving end.
type Inbox struct {
	name string
	q    *queue[domain.Message]
}

// Name returns the name the consumer registered with.
func (in *Inbox) Name() string { return in.name }

// Recv blocks for the next delivered message. It returns ErrClosed once the
// bus has stopped and everything delivered has been read, or ctx.Err().
func (in *Inbox) Recv(ctx context.Context) (domain.Message, error) {
	return in.q.pop(ctx)
}

// Len reports the number of delivered, unread messages.
func (in *Inbox) Len() int { return in.q.len() }

// Close detaches the consumer. Queued messages are dropped and later
// deliveries are skipped by the dispatcher.
func (in *Inbox) Close() { in.q.discard() }
