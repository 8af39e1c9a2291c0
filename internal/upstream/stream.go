package upstream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// doneSentinel terminates an OpenAI SSE stream.
const doneSentinel = "[DONE]"

// maxLineBytes caps a single SSE line. Completion deltas are tiny; this
// only guards against a misbehaving provider.
const maxLineBytes = 1 << 20

// ReadStream consumes an SSE body and emits one Delta per non-empty content
// increment. The channel closes cleanly on the [DONE] sentinel or EOF.
//
// bufio.Scanner buffers partial lines across reads, so a frame split at a
// read boundary is reassembled rather than dropped. A frame whose JSON does
// not parse is skipped: providers occasionally emit junk frames and one bad
// frame must never kill the whole turn. Only transport errors surface as a
// Delta with Err set.
func ReadStream(r io.Reader) <-chan Delta {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	ch := make(chan Delta, 16)
	go func() {
		defer close(ch)
		for scanner.Scan() {
			line := scanner.Text()
			payload, ok := strings.CutPrefix(line, "data:")
			if !ok {
				// Blank separator lines and SSE comments.
				continue
			}
			payload = strings.TrimSpace(payload)
			if payload == doneSentinel {
				return
			}

			var frame streamFrame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				continue
			}
			if len(frame.Choices) == 0 {
				continue
			}
			if content := frame.Choices[0].Delta.Content; content != "" {
				ch <- Delta{Content: content}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- Delta{Err: err}
		}
	}()
	return ch
}
