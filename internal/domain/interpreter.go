package domain

import "context"

// Interpreter evaluates a code string and returns a JSON-encoded portable
// value.
type Interpreter interface {
	Name() string
	// CommentMarker is the line prefix that marks prose rather than code.
	CommentMarker() string
	Eval(ctx context.Context, code string) (string, error)
	Close() error
}

// Publisher accepts messages for fan-out.
type Publisher interface {
	Publish(msg Message)
}
