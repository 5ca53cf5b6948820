package stream

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

// chunkedBody replays fixed chunks, one per Read, and records Close calls.
type chunkedBody struct {
	chunks  [][]byte
	closed  int
	readErr error
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.readErr != nil {
			return 0, b.readErr
		}
		return 0, io.EOF
	}
	c := b.chunks[0]
	n := copy(p, c)
	if n < len(c) {
		b.chunks[0] = c[n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.closed++
	return nil
}

func newBody(payload string, splits ...int) *chunkedBody {
	var chunks [][]byte
	prev := 0
	for _, s := range splits {
		if s <= prev || s >= len(payload) {
			continue
		}
		chunks = append(chunks, []byte(payload[prev:s]))
		prev = s
	}
	chunks = append(chunks, []byte(payload[prev:]))
	return &chunkedBody{chunks: chunks}
}

func everyNBytes(payload string, n int) *chunkedBody {
	var splits []int
	for i := n; i < len(payload); i += n {
		splits = append(splits, i)
	}
	return newBody(payload, splits...)
}

func drain(t *testing.T, d *Decoder) ([]string, error) {
	t.Helper()
	var tokens []string
	for i := 0; i < 10000; i++ {
		token, err := d.Next()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, token)
	}
	t.Fatal("decoder did not terminate")
	return nil, nil
}

func TestLiteralRoundTrip(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" + "data: [DONE]\n\n"
	body := newBody(payload)
	d := NewDecoder(body)

	token, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if token != "Hi" {
		t.Errorf("token = %q, want %q", token, "Hi")
	}

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("second Next() error = %v, want io.EOF", err)
	}
	if body.closed != 1 {
		t.Errorf("body closed %d times, want 1", body.closed)
	}
}

func TestSplitBoundaries(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n" +
		"data: [DONE]\n"

	tests := []struct {
		name   string
		splits []int
	}{
		{"single chunk", nil},
		{"offset 1", []int{1}},
		{"offset 5", []int{5}},
		{"offset 40", []int{40}},
		{"offsets 1, 5, 40", []int{1, 5, 40}},
		{"inside sentinel", []int{len(payload) - 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := drain(t, NewDecoder(newBody(payload, tt.splits...)))
			if err != io.EOF {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := []string{"A", "B"}; !reflect.DeepEqual(tokens, want) {
				t.Errorf("tokens = %q, want %q", tokens, want)
			}
		})
	}
}

func TestChunkBoundaryInvariance(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(": keep-alive\n\n")
	for _, word := range []string{"The", " quick", " brown", " føx", " 🦊", "\\n", " jumps"} {
		sb.WriteString(`data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"` + word + `"},"finish_reason":null}]}` + "\r\n\r\n")
	}
	sb.WriteString(`data: {"id":"chatcmpl-1","choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n")
	sb.WriteString("data: [DONE]\n\n")
	payload := sb.String()

	want, err := drain(t, NewDecoder(newBody(payload)))
	if err != io.EOF {
		t.Fatalf("whole payload: unexpected error %v", err)
	}
	if len(want) != 7 {
		t.Fatalf("expected 7 tokens from whole payload, got %d: %q", len(want), want)
	}

	for size := 1; size <= len(payload); size++ {
		got, err := drain(t, NewDecoder(everyNBytes(payload, size)))
		if err != io.EOF {
			t.Fatalf("chunk size %d: unexpected error %v", size, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: tokens = %q, want %q", size, got, want)
		}
	}
}

func TestSkipsCommentsAndForeignLines(t *testing.T) {
	payload := ": ping\n" +
		"event: message\n" +
		"id: 7\n" +
		"\n" +
		"data:{\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n"

	tokens, err := drain(t, NewDecoder(newBody(payload)))
	if err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"ok"}; !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %q, want %q", tokens, want)
	}
}

func TestStopsAtSentinel(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}\n"

	body := newBody(payload)
	tokens, err := drain(t, NewDecoder(body))
	if err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"x"}; !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %q, want %q", tokens, want)
	}
	if body.closed != 1 {
		t.Errorf("body closed %d times, want 1", body.closed)
	}
}

func TestMissingFinalNewline(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "trailing data line",
			payload: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}",
			want:    []string{"a", "b"},
		},
		{
			name:    "trailing sentinel",
			payload: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: [DONE]",
			want:    []string{"a"},
		},
		{
			name:    "trailing garbage",
			payload: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: {\"choi",
			want:    []string{"a"},
		},
		{
			name:    "no sentinel at all",
			payload: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n",
			want:    []string{"a"},
		},
		{
			name:    "empty body",
			payload: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := newBody(tt.payload)
			tokens, err := drain(t, NewDecoder(body))
			if err != io.EOF {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(tokens, tt.want) {
				t.Errorf("tokens = %q, want %q", tokens, tt.want)
			}
			if body.closed != 1 {
				t.Errorf("body closed %d times, want 1", body.closed)
			}
		})
	}
}

func TestMalformedFramesBelowThresholdAreSkipped(t *testing.T) {
	var sb strings.Builder
	for round := 0; round < 3; round++ {
		for i := 0; i < MaxConsecutiveFailures-1; i++ {
			sb.WriteString("data: {not json\n")
		}
		sb.WriteString("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n")
	}
	sb.WriteString("data: [DONE]\n")

	tokens, err := drain(t, NewDecoder(newBody(sb.String())))
	if err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"ok", "ok", "ok"}; !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %q, want %q", tokens, want)
	}
}

func TestMalformedFramesAtThresholdFail(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n")
	for i := 0; i < MaxConsecutiveFailures; i++ {
		sb.WriteString("data: <html>502 Bad Gateway</html>\n")
	}
	sb.WriteString("data: {\"choices\":[{\"delta\":{\"content\":\"never\"}}]}\n")

	body := newBody(sb.String())
	d := NewDecoder(body)
	tokens, err := drain(t, d)

	if !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("error = %v, want ErrMalformedStream", err)
	}
	if want := []string{"first"}; !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %q, want %q", tokens, want)
	}
	if body.closed != 1 {
		t.Errorf("body closed %d times, want 1", body.closed)
	}

	// The failure is sticky.
	if _, err := d.Next(); !errors.Is(err, ErrMalformedStream) {
		t.Errorf("Next() after failure = %v, want ErrMalformedStream", err)
	}
}

func TestReadErrorReleasesBody(t *testing.T) {
	readErr := errors.New("connection reset by peer")
	body := &chunkedBody{
		chunks:  [][]byte{[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n")},
		readErr: readErr,
	}

	tokens, err := drain(t, NewDecoder(body))
	if !errors.Is(err, readErr) {
		t.Fatalf("error = %v, want %v", err, readErr)
	}
	if want := []string{"a"}; !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %q, want %q", tokens, want)
	}
	if body.closed != 1 {
		t.Errorf("body closed %d times, want 1", body.closed)
	}
}

func TestAllReleasesOnEarlyBreak(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
		"data: [DONE]\n"
	body := newBody(payload)
	d := NewDecoder(body)

	for token, err := range d.All() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "a" {
			break
		}
	}

	if body.closed != 1 {
		t.Errorf("body closed %d times, want 1", body.closed)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("Next() after Close = %v, want io.EOF", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if body.closed != 1 {
		t.Errorf("body closed %d times after second Close, want 1", body.closed)
	}
}

func TestCollect(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\", world\"}}]}\n\n" +
		"data: [DONE]\n\n"

	text, err := Collect(NewDecoder(everyNBytes(payload, 7)))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "Hello, world" {
		t.Errorf("Collect() = %q, want %q", text, "Hello, world")
	}
}
