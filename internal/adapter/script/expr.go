package script

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"scriptchat/internal/domain"
)

var _ domain.Interpreter = (*ExprInterpreter)(nil)

// ExprInterpreter evaluates expr-lang expressions. Each script is compiled
// against a fresh environment; nothing carries over between scripts.
type ExprInterpreter struct {
	host *Host
}

// NewExprInterpreter creates an expr interpreter backed by host.
func NewExprInterpreter(host *Host) *ExprInterpreter {
	return &ExprInterpreter{host: host}
}

// Name implements domain.Interpreter.
func (in *ExprInterpreter) Name() string { return "expr" }

// CommentMarker implements domain.Interpreter.
func (in *ExprInterpreter) CommentMarker() string { return "//" }

// Close implements domain.Interpreter.
func (in *ExprInterpreter) Close() error { return nil }

// Eval compiles and runs code, returning the result as JSON. expr has no
// cancellation hook, so a run that outlives ctx is abandoned; expressions
// cannot loop unboundedly, so it still finishes.
func (in *ExprInterpreter) Eval(ctx context.Context, code string) (string, error) {
	env := in.env(ctx)
	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrScriptEval, err)
	}

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := expr.Run(program, env)
		done <- outcome{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case out := <-done:
		if out.err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrScriptEval, out.err)
		}
		return encodeJSON(out.val)
	}
}

func (in *ExprInterpreter) env(ctx context.Context) map[string]any {
	h := in.host
	return map[string]any{
		"send_sms": func(number, msg string) Result {
			return h.SendSMS(ctx, number, msg)
		},
		"send_msg": func(roomID int, message string) Result {
			if roomID < 0 {
				return errResult("room id must not be negative")
			}
			return h.SendMsg(ctx, uint64(roomID), message)
		},
		"remember": func(at int, text string) Result {
			if at < 0 {
				return errResult("time must not be negative")
			}
			return h.Remember(ctx, uint64(at), text)
		},
		"list_reminders": func() Result {
			return h.ListReminders(ctx)
		},
		"get_weather": func() Result {
			return h.GetWeather(ctx)
		},
		"get_current_time": func() Result {
			return h.GetCurrentTime(ctx)
		},
	}
}
