package usecase

import (
	"fmt"
	"strings"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

// Consumer names, in registration (and delivery) order.
const (
	ConsumerPresentation = "presentation"
	ConsumerInference    = "inference"
	ConsumerExecutor     = "executor"
)

// PresentationFilter delivers everything not authored by the local user.
func PresentationFilter() eventbus.Filter {
	return eventbus.Match(func(m domain.Message) bool {
		return m.Role != domain.RoleUser
	})
}

// InferenceFilter delivers completed user input and tool results. Assistant
// output never reaches it, so the adapter cannot react to its own turns.
func InferenceFilter() eventbus.Filter {
	return eventbus.Match(func(m domain.Message) bool {
		if !m.Token.IsEnd() {
			return false
		}
		return m.Role == domain.RoleUser || m.Role == domain.RoleTool
	})
}

// ExecutorFilter delivers completed assistant turns that look like code: the
// text is non-empty and does not start with commentMarker. A reply wrapped in
// a single fenced code block is delivered as the block body.
func ExecutorFilter(commentMarker string) eventbus.Filter {
	return eventbus.FilterFunc(func(m domain.Message) (domain.Message, bool) {
		if m.Role != domain.RoleAssistant || !m.Token.IsEnd() {
			return domain.Message{}, false
		}
		code := unfence(strings.TrimSpace(m.Token.Text))
		if code == "" {
			return domain.Message{}, false
		}
		if commentMarker != "" && strings.HasPrefix(code, commentMarker) {
			return domain.Message{}, false
		}
		return domain.NewMessage(m.Role, domain.End(code)), true
	})
}

// RunsAsScript reports whether the executor route accepts m.
func RunsAsScript(commentMarker string) func(domain.Message) bool {
	f := ExecutorFilter(commentMarker)
	return func(m domain.Message) bool {
		_, ok := f.Filter(m)
		return ok
	}
}

// unfence returns the body of text when text is exactly one ``` block.
func unfence(text string) string {
	const fence = "```"
	if !strings.HasPrefix(text, fence) || !strings.HasSuffix(text, fence) || len(text) < 2*len(fence) {
		return text
	}
	body := strings.TrimSuffix(text[len(fence):], fence)
	if strings.Contains(body, fence) {
		return text
	}
	// Drop the info string (```lua).
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		return text
	}
	return strings.TrimSpace(body)
}

// Route is one edge of the actor graph: a named consumer and its filter.
type Route struct {
	Name   string
	Filter eventbus.Filter
}

// Routes declares the actor graph. Each actor consumes only what the others
// produce:
//
//	user  --End--> inference --Start/Chunk/End--> presentation, executor
//	executor --Tool End--> inference, presentation
func Routes(commentMarker string) []Route {
	return []Route{
		{Name: ConsumerPresentation, Filter: PresentationFilter()},
		{Name: ConsumerInference, Filter: InferenceFilter()},
		{Name: ConsumerExecutor, Filter: ExecutorFilter(commentMarker)},
	}
}

// Inboxes holds the receive handles produced by Wire.
type Inboxes struct {
	Presentation *eventbus.Inbox
	Inference    *eventbus.Inbox
	Executor     *eventbus.Inbox
}

// Wire registers every route on bus. It must run before bus.Run.
func Wire(bus *eventbus.Bus, commentMarker string) (Inboxes, error) {
	var in Inboxes
	for _, r := range Routes(commentMarker) {
		inbox, err := bus.Register(r.Name, r.Filter)
		if err != nil {
			return Inboxes{}, fmt.Errorf("wire routes: %w", err)
		}
		switch r.Name {
		case ConsumerPresentation:
			in.Presentation = inbox
		case ConsumerInference:
			in.Inference = inbox
		case ConsumerExecutor:
			in.Executor = inbox
		}
	}
	return in, nil
}
