package stream

import (
	"io"
	"strings"
	"testing"
)

// drip returns at most n bytes per Read to simulate upstream chunk
// boundaries that do not align with line boundaries.
type drip struct {
	r io.Reader
	n int
}

func (d *drip) Read(p []byte) (int, error) {
	if len(p) > d.n {
		p = p[:d.n]
	}
	return d.r.Read(p)
}

func TestSSEScannerReassemblesAcrossChunks(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\r\n\ndata: [DONE]\n\ndata: {\"never\":true}\n"
	scanner := NewSSEScanner(&drip{r: strings.NewReader(body), n: 3})

	var payloads []string
	for {
		payload, ok := scanner.Next()
		if !ok {
			break
		}
		payloads = append(payloads, string(payload))
	}
	if len(payloads) != 2 {
		t.Fatalf("payloads = %v, want 2 before sentinel", payloads)
	}
	if payloads[0] != `{"a":1}` || payloads[1] != `{"b":2}` {
		t.Errorf("payloads = %v", payloads)
	}
	// Terminal: further calls stay done.
	if _, ok := scanner.Next(); ok {
		t.Error("scanner yielded data after [DONE]")
	}
}

func TestSSEScannerSkipsNonDataLines(t *testing.T) {
	body := "event: ping\n: comment\ndata: {\"x\":1}\n\n"
	scanner := NewSSEScanner(strings.NewReader(body))

	payload, ok := scanner.Next()
	if !ok || string(payload) != `{"x":1}` {
		t.Fatalf("payload = %q ok=%v", payload, ok)
	}
	if _, ok := scanner.Next(); ok {
		t.Error("expected end of stream at EOF")
	}
}
