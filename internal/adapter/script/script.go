// Package script provides the interpreters that run code written by the
// model, and the host functions those scripts can call.
package script

import (
	"errors"
	"fmt"
	"log/slog"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
)

// Runtime is an interpreter bundled with the resources its host functions
// use. It satisfies domain.Interpreter; Close releases everything.
type Runtime struct {
	domain.Interpreter
	store *ReminderStore
}

// Open builds the interpreter named by cfg.Engine.
func Open(cfg config.ScriptConfig, logger *slog.Logger) (*Runtime, error) {
	logger = logger.With("component", "script", "engine", cfg.Engine)

	store, err := NewReminderStore(cfg.RemindersDSN)
	if err != nil {
		return nil, err
	}
	host := NewHost(cfg.RateLimitPerMinute, store, logger)

	var in domain.Interpreter
	switch cfg.Engine {
	case "lua":
		in, err = NewLuaInterpreter(host)
	case "expr":
		in = NewExprInterpreter(host)
	default:
		err = domain.NewDomainError("script.Open", domain.ErrInvalidInput,
			fmt.Sprintf("unknown script engine %q", cfg.Engine))
	}
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Runtime{Interpreter: in, store: store}, nil
}

// Close implements domain.Interpreter.
func (r *Runtime) Close() error {
	return errors.Join(r.Interpreter.Close(), r.store.Close())
}
