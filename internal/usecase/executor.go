package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/tracer"
	"scriptchat/internal/usecase/eventbus"
)

// DefaultScriptTimeout bounds one evaluation when no timeout is configured.
const DefaultScriptTimeout = 10 * time.Second

// ExecutorDeps groups the collaborators of a ScriptExecutor.
type ExecutorDeps struct {
	Inbox       *eventbus.Inbox
	Publisher   domain.Publisher
	Interpreter domain.Interpreter
	Timeout     time.Duration
	Logger      *slog.Logger
}

// ScriptExecutor evaluates completed assistant turns as scripts and publishes
// each result as a Tool turn. Evaluation failures are published as an error
// envelope rather than returned.
type ScriptExecutor struct {
	deps ExecutorDeps
}

// NewScriptExecutor creates an executor.
func NewScriptExecutor(deps ExecutorDeps) *ScriptExecutor {
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultScriptTimeout
	}
	return &ScriptExecutor{deps: deps}
}

// Run processes one script at a time until the inbox closes or ctx is done.
func (e *ScriptExecutor) Run(ctx context.Context) error {
	log := e.deps.Logger.With("component", ConsumerExecutor, "engine", e.deps.Interpreter.Name())
	log.Debug("executor started")
	defer log.Debug("executor stopped")

	for {
		msg, err := e.deps.Inbox.Recv(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("executor receive: %w", err)
		}
		result := e.Evaluate(ctx, msg.Token.Text)
		// Shutdown interrupted the script; its result is not a tool turn.
		if ctx.Err() != nil {
			return nil
		}
		e.deps.Publisher.Publish(domain.NewMessage(domain.RoleTool, domain.End(result)))
	}
}

// Evaluate runs code and returns the JSON text to publish: the interpreter's
// value on success, an error envelope otherwise.
func (e *ScriptExecutor) Evaluate(ctx context.Context, code string) string {
	ctx, span := tracer.StartSpan(ctx, "script.eval")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("script.engine", e.deps.Interpreter.Name()),
		tracer.IntAttr("script.size", len(code)),
	)

	evalCtx, cancel := context.WithTimeout(ctx, e.deps.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.deps.Interpreter.Eval(evalCtx, code)
	elapsed := time.Since(start)

	// Interpreters report an interrupted run in their own error types.
	if err != nil && errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	if err == nil && evalCtx.Err() != nil {
		err = evalCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrTimeout, e.deps.Timeout)
		}
		tracer.RecordError(span, err)
		e.deps.Logger.Info("script failed",
			"engine", e.deps.Interpreter.Name(),
			"duration", elapsed,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		return ErrorEnvelope(err)
	}

	tracer.SetOK(span)
	e.deps.Logger.Debug("script evaluated",
		"engine", e.deps.Interpreter.Name(),
		"duration", elapsed,
		"result_len", len(out),
	)
	return out
}

type errorEnvelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ErrorEnvelope renders err as {"status":"error","error":"..."}.
func ErrorEnvelope(err error) string {
	return encodeJSON(errorEnvelope{Status: "error", Error: err.Error()})
}
