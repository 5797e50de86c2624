package eventbus

import "scriptchat/internal/domain"

// Filter decides whether a consumer receives a message and may rewrite the
// copy it receives. Implementations must be pure: the dispatcher calls every
// filter from a single goroutine and holds no locks while doing so.
type Filter interface {
	Filter(msg domain.Message) (domain.Message, bool)
}

// FilterFunc adapts an ordinary function to the Filter interface.
type FilterFunc func(msg domain.Message) (domain.Message, bool)

// Filter calls f(msg).
func (f FilterFunc) Filter(msg domain.Message) (domain.Message, bool) { return f(msg) }

// Accept delivers every message unchanged.
var Accept = FilterFunc(func(msg domain.Message) (domain.Message, bool) { return msg, true })

// Drop delivers nothing.
var Drop = FilterFunc(func(domain.Message) (domain.Message, bool) { return domain.Message{}, false })

// Match turns a predicate into a Filter that delivers accepted messages
// unchanged.
func Match(pred func(domain.Message) bool) Filter {
	return FilterFunc(func(msg domain.Message) (domain.Message, bool) {
		if !pred(msg) {
			return domain.Message{}, false
		}
		return msg, true
	})
}
