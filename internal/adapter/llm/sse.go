package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"scriptchat/internal/domain"
)

// maxLineSize bounds a single SSE or NDJSON line.
const maxLineSize = 1024 * 1024

// lineParser converts one payload into a delta. A nil delta is skipped.
type lineParser func(data []byte) (*domain.StreamDelta, error)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using parseLine. The channel is closed when the
// stream ends, the body fails, or ctx is cancelled. A read failure, or a body
// that ends before the done marker, is sent as a final delta with Err set.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine lineParser) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)

			if bytes.Equal(data, []byte("[DONE]")) {
				emit(ctx, ch, domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil {
				emit(ctx, ch, domain.StreamDelta{Err: err})
				return
			}
			if delta == nil {
				continue
			}
			if !emit(ctx, ch, *delta) || delta.Done || delta.Err != nil {
				return
			}
		}
		endOfStream(ctx, ch, scanner.Err())
	}()
	return ch
}

// parseNDJSONStream reads newline-delimited JSON objects from body, one delta
// per line, with the same termination rules as parseSSEStream.
func parseNDJSONStream(ctx context.Context, body io.ReadCloser, parseLine lineParser) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			delta, err := parseLine(line)
			if err != nil {
				emit(ctx, ch, domain.StreamDelta{Err: err})
				return
			}
			if delta == nil {
				continue
			}
			if !emit(ctx, ch, *delta) || delta.Done || delta.Err != nil {
				return
			}
		}
		endOfStream(ctx, ch, scanner.Err())
	}()
	return ch
}

// ErrStreamTruncated reports a body that ended before the engine marked the
// generation done.
var ErrStreamTruncated = errors.New("stream ended before completion")

// endOfStream reports why a stream stopped without a done marker.
func endOfStream(ctx context.Context, ch chan<- domain.StreamDelta, readErr error) {
	if ctx.Err() != nil {
		return
	}
	err := fmt.Errorf("%w: %w", domain.ErrProviderError, ErrStreamTruncated)
	if readErr != nil {
		err = fmt.Errorf("%w: read stream: %w", domain.ErrProviderError, readErr)
	}
	emit(ctx, ch, domain.StreamDelta{Err: err})
}
