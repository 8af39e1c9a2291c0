package relay

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ymorimo/machikado-relay/internal/upstream"
)

func deltas(contents ...string) <-chan upstream.Delta {
	ch := make(chan upstream.Delta, len(contents))
	for _, c := range contents {
		ch <- upstream.Delta{Content: c}
	}
	close(ch)
	return ch
}

func TestParseFraming(t *testing.T) {
	if f, err := ParseFraming("text"); err != nil || f != FramingText {
		t.Errorf("ParseFraming(text) = (%v, %v)", f, err)
	}
	if f, err := ParseFraming("sse"); err != nil || f != FramingSSE {
		t.Errorf("ParseFraming(sse) = (%v, %v)", f, err)
	}
	if _, err := ParseFraming("ndjson"); err == nil {
		t.Error("expected error for unknown framing")
	}
}

func TestWriteStreamText(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := writeStream(rec, FramingText, deltas("こん", "にちは", "", "！")); err != nil {
		t.Fatalf("writeStream: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}
	if got := rec.Body.String(); got != "こんにちは！" {
		t.Errorf("got %q, want raw concatenated text", got)
	}
}

func TestWriteStreamSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := writeStream(rec, FramingSSE, deltas("Hello", " there")); err != nil {
		t.Fatalf("writeStream: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("missing [DONE] trailer: %q", body)
	}

	var collected strings.Builder
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var frame sseDelta
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("frame %q is not valid JSON: %v", payload, err)
		}
		collected.WriteString(frame.Delta.Content)
	}
	if collected.String() != "Hello there" {
		t.Errorf("reassembled %q, want %q", collected.String(), "Hello there")
	}
}

var errTransport = errors.New("connection reset")

func TestWriteStreamErrDelta(t *testing.T) {
	ch := make(chan upstream.Delta, 2)
	ch <- upstream.Delta{Content: "partial"}
	ch <- upstream.Delta{Err: errTransport}
	close(ch)

	rec := httptest.NewRecorder()
	err := writeStream(rec, FramingText, ch)
	if err == nil {
		t.Fatal("expected mid-stream error to propagate")
	}
	if got := rec.Body.String(); got != "partial" {
		t.Errorf("content before the error should be written, got %q", got)
	}
}
