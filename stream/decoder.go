// Package stream decodes OpenAI-compatible server-sent chat completion
// streams into text tokens.
//
// The wire format is a sequence of lines:
//
//	data: {"choices":[{"delta":{"content":"Hel"}}]}
//
//	data: {"choices":[{"delta":{"content":"lo"}}]}
//
//	data: [DONE]
//
// A Decoder buffers only the current, not yet terminated line. A JSON payload
// is never looked at until its terminating newline has arrived, so payloads
// split at arbitrary byte offsets by the transport decode the same as if they
// had arrived in one read.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"lmchat/config"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// MaxConsecutiveFailures is the number of undecodable frames in a row
	// after which the stream is considered unrecoverable.
	MaxConsecutiveFailures = 5

	readChunkSize = 4096
)

// ErrMalformedStream is returned once MaxConsecutiveFailures frames in a row
// could not be decoded.
var ErrMalformedStream = errors.New("malformed stream data")

// chunk is one streamed chat.completion.chunk object. Only the first choice's
// delta is used.
type chunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Decoder is a pull-based iterator over the text tokens of one streaming
// response. It owns the body it was created with and closes it exactly once,
// whichever way iteration ends. A Decoder is not safe for concurrent use and
// cannot be restarted.
type Decoder struct {
	body    io.ReadCloser
	readBuf []byte
	line    []byte // residual bytes not yet terminated by '\n'

	failures  int
	exhausted bool

	done      bool
	err       error
	closeOnce sync.Once
	closeErr  error
}

func NewDecoder(body io.ReadCloser) *Decoder {
	return &Decoder{
		body:    body,
		readBuf: make([]byte, readChunkSize),
	}
}

// Next returns the next non-empty token. It returns io.EOF after the [DONE]
// sentinel or when the source is exhausted, and ErrMalformedStream (wrapped)
// when too many consecutive frames fail to decode. Once Next has returned an
// error every later call returns the same error.
func (d *Decoder) Next() (string, error) {
	for {
		if d.done {
			if d.err != nil {
				return "", d.err
			}
			return "", io.EOF
		}

		if i := bytes.IndexByte(d.line, '\n'); i >= 0 {
			raw := d.line[:i]
			d.line = d.line[i+1:]

			token, stop, err := d.handleLine(raw)
			if err != nil || stop {
				return "", d.finish(err)
			}
			if token != "" {
				return token, nil
			}
			continue
		}

		if d.exhausted {
			// Servers may omit the final line terminator.
			rest := d.line
			d.line = nil
			if len(bytes.TrimSpace(rest)) == 0 {
				return "", d.finish(nil)
			}
			token, _, err := d.handleLine(rest)
			if err != nil {
				return "", d.finish(err)
			}
			if token != "" {
				return token, nil
			}
			return "", d.finish(nil)
		}

		n, err := d.body.Read(d.readBuf)
		if n > 0 {
			d.line = append(d.line, d.readBuf[:n]...)
		}
		if err == io.EOF {
			d.exhausted = true
		} else if err != nil {
			return "", d.finish(fmt.Errorf("failed to read stream: %w", err))
		}
	}
}

// handleLine interprets one complete line. stop is true for the [DONE]
// sentinel.
func (d *Decoder) handleLine(raw []byte) (token string, stop bool, err error) {
	line := strings.TrimSpace(string(raw))
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false, nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false, nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneSentinel {
		return "", true, nil
	}

	var c chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		d.failures++
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Stream] Skipping undecodable frame (%d/%d): %v", d.failures, MaxConsecutiveFailures, err)
		}
		if d.failures >= MaxConsecutiveFailures {
			return "", false, fmt.Errorf("%w: %d consecutive undecodable frames: %v", ErrMalformedStream, d.failures, err)
		}
		return "", false, nil
	}
	d.failures = 0

	if len(c.Choices) == 0 {
		return "", false, nil
	}
	return c.Choices[0].Delta.Content, false, nil
}

// finish marks the decoder terminated, releases the body and returns the
// error Next should report.
func (d *Decoder) finish(err error) error {
	d.done = true
	d.err = err
	d.line = nil
	d.release()

	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Stream] Stream aborted: %v", err)
		}
		return err
	}
	return io.EOF
}

func (d *Decoder) release() {
	d.closeOnce.Do(func() {
		d.closeErr = d.body.Close()
	})
}

// Close releases the underlying body. It is safe to call at any time and more
// than once; later calls to Next return io.EOF unless the stream had already
// failed.
func (d *Decoder) Close() error {
	if !d.done {
		d.done = true
		d.line = nil
	}
	d.release()
	return d.closeErr
}

// All returns an iterator over the remaining tokens. Iteration stops at the
// end of the stream or after yielding the first error. The body is released
// when iteration ends, including when the caller breaks out early.
func (d *Decoder) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer d.Close()
		for {
			token, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(token, nil) {
				return
			}
		}
	}
}

// Collect drains the decoder and returns the concatenated text.
func Collect(d *Decoder) (string, error) {
	var sb strings.Builder
	for token, err := range d.All() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(token)
	}
	return sb.String(), nil
}
