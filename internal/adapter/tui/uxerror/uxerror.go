// Package uxerror translates raw errors into user-friendly messages with
// recovery hints.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"scriptchat/internal/adapter/tui/theme"
	"scriptchat/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text
}

// Render formats the FriendlyError for a terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	if fe.Raw != "" && fe.Raw != fe.Message {
		sb.WriteString("\n  Details: ")
		sb.WriteString(fe.Raw)
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

// Sentinels are checked before string patterns so errors.Is works through
// wrapping; the more specific sentinels come first.
var patterns = []errorPattern{
	{
		match:   is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The engine rejected the API key.", []string{"Check engine.api_key or SCRIPTCHAT_ENGINE_API_KEY", "Verify the key hasn't expired"}),
	},
	{
		match:   is(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "The engine refused the request: too many requests.", []string{"Wait a moment before retrying", "Use a local engine such as ollama"}),
	},
	{
		match:   is(domain.ErrContextOverflow),
		produce: constantError("Context Too Large", "The conversation no longer fits the model's context window.", []string{"Raise --ctx-size", "Start a new session with a shorter prompt file"}),
	},
	{
		match:   both(domain.ErrProviderError, domain.ErrNotFound),
		produce: constantError("Model Not Found", "The engine does not know the requested model.", []string{"Pull the model first, e.g. 'ollama pull llama3.2'", "Check --model and engine.base_url"}),
	},
	{
		match:   is(domain.ErrEngineNotFound),
		produce: constantError("Unknown Engine", "The configured inference provider is not supported.", []string{"Use --provider ollama, openai, or echo"}),
	},
	{
		match:   is(domain.ErrUnknownTemplate),
		produce: constantError("Unknown Template", "The prompt template name is not recognised.", []string{"Use --template llama3, chatml, gemma, mistral, or none"}),
	},
	{
		match:   is(domain.ErrConfigLoad),
		produce: constantError("Configuration Error", "The configuration or prompt file could not be loaded.", []string{"Check the file path and YAML syntax", "Run with --config pointing at a valid file"}),
	},

	// Connectivity patterns for errors from the network stack.
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the inference engine.", []string{"Start the engine (e.g. 'ollama serve')", "Verify engine.base_url in config"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The engine took too long to respond.", []string{"Increase engine.resp_timeout", "Check that the model fits in memory"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Run with --log-level debug for more details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func both(a, b error) func(error) bool {
	return func(err error) bool { return errors.Is(err, a) && errors.Is(err, b) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
