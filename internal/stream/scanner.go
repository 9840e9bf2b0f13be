// Package stream re-assembles upstream SSE byte streams into structured
// events and re-emits them in the gateway's external framings.
package stream

import (
	"bufio"
	"bytes"
	"io"
)

// DoneSentinel is the literal end-of-stream marker used by both external
// surfaces. It must be emitted exactly once on every stream, including
// error paths.
const DoneSentinel = "[DONE]"

var dataPrefix = []byte("data:")

// SSEScanner yields the data payloads of an SSE byte stream. Upstream chunk
// boundaries do not align with line boundaries, so payloads are recovered
// by accumulating bytes and splitting on newline.
type SSEScanner struct {
	scanner *bufio.Scanner
	done    bool
}

// NewSSEScanner wraps an upstream body. The buffer allows single events up
// to 8MB, which inline image data can plausibly reach.
func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &SSEScanner{scanner: scanner}
}

// Next returns the next data payload. ok is false once the upstream stream
// ends, whether by the [DONE] sentinel or by EOF.
func (s *SSEScanner) Next() (payload []byte, ok bool) {
	if s.done {
		return nil, false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSuffix(s.scanner.Bytes(), []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if len(data) == 0 {
			continue
		}
		if string(data) == DoneSentinel {
			s.done = true
			return nil, false
		}
		return data, true
	}
	s.done = true
	return nil, false
}

// Err reports a read error other than EOF.
func (s *SSEScanner) Err() error {
	return s.scanner.Err()
}
