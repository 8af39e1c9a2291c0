package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ymorimo/machikado-relay/internal/upstream"
)

// Framing is the wire contract between relay and browser client. Exactly
// one framing is live per deployment; client and relay must agree on it out
// of band because the stream itself is not self-describing.
type Framing int

const (
	// FramingText streams raw UTF-8 content fragments with no framing.
	// The client appends each read directly to the visible message.
	FramingText Framing = iota
	// FramingSSE streams `data: {"delta":{"content":...}}` lines,
	// terminated by `data: [DONE]`. The client parses each line.
	FramingSSE
)

// ParseFraming maps the config string to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "text", "":
		return FramingText, nil
	case "sse":
		return FramingSSE, nil
	}
	return FramingText, fmt.Errorf("unknown stream framing %q (want \"text\" or \"sse\")", s)
}

func (f Framing) String() string {
	if f == FramingSSE {
		return "sse"
	}
	return "text"
}

// sseDelta is one re-wrapped frame under FramingSSE.
type sseDelta struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// writeStream forwards deltas to the client in the given framing, flushing
// after every chunk so tokens render as they arrive. Headers are written
// here; callers must not have touched the ResponseWriter yet.
//
// A transport error mid-stream returns the error with the response already
// partially written: nothing more can be sent, the connection just closes.
func writeStream(w http.ResponseWriter, f Framing, stream <-chan upstream.Delta) error {
	fw := newFlushWriter(w)

	switch f {
	case FramingSSE:
		fw.Header().Set("Content-Type", "text/event-stream")
		fw.Header().Set("Cache-Control", "no-cache")
		fw.Header().Set("Connection", "keep-alive")
		fw.Header().Set("X-Accel-Buffering", "no")
	default:
		fw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fw.Header().Set("Cache-Control", "no-cache")
	}
	fw.WriteHeader(http.StatusOK)
	fw.Flush()

	for delta := range stream {
		if delta.Err != nil {
			return delta.Err
		}
		if delta.Content == "" {
			continue
		}
		if err := writeDelta(fw, f, delta.Content); err != nil {
			return err
		}
		fw.Flush()
	}

	if f == FramingSSE {
		if _, err := fmt.Fprint(fw, "data: [DONE]\n\n"); err != nil {
			return err
		}
		fw.Flush()
	}
	return nil
}

func writeDelta(fw *flushWriter, f Framing, content string) error {
	if f == FramingSSE {
		var frame sseDelta
		frame.Delta.Content = content
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("marshal delta: %w", err)
		}
		_, err = fmt.Fprintf(fw, "data: %s\n\n", data)
		return err
	}
	_, err := fw.Write([]byte(content))
	return err
}

// flushWriter wraps http.ResponseWriter with a Flush that is a no-op when
// the underlying writer does not implement http.Flusher.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	fw := &flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

func (fw *flushWriter) Header() http.Header         { return fw.w.Header() }
func (fw *flushWriter) WriteHeader(code int)        { fw.w.WriteHeader(code) }
func (fw *flushWriter) Write(p []byte) (int, error) { return fw.w.Write(p) }
func (fw *flushWriter) Flush() {
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
}
