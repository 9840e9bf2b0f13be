package stream

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hhszzzz/antihub/internal/tokencount"
)

// Frame is one outbound SSE frame. Raw, when set, is written verbatim as a
// data line (used for the [DONE] sentinel); otherwise Event/Data render as
// "event: <name>\ndata: <json>".
type Frame struct {
	Event string
	Data  map[string]interface{}
	Raw   string
}

// Sink receives outbound frames in order.
type Sink func(Frame) error

// MessagesTranslator converts neutral events into Messages API SSE frames.
//
// In eager mode every frame is forwarded as soon as it is produced and the
// message_start usage carries the provisional estimate. In buffered mode
// frames are held until the upstream stream completes, the message_start
// usage is rewritten with the real value from the last upstream event, and
// the whole sequence is flushed in original order. Some clients read usage
// only from the first event, so the estimate must never reach them.
type MessagesTranslator struct {
	sink     Sink
	model    string
	estimate int
	buffered bool

	frames []Frame

	// mu guards finished: the heartbeat goroutine calls Ping while the
	// request goroutine may be closing the stream.
	mu       sync.Mutex
	finished bool

	started    bool
	blockOpen  bool
	blockKind  string
	blockIndex int

	stopReason string
	usage      *tokencount.Usage
}

// NewMessagesTranslator builds a translator. estimate is the provisional
// input-token count reported before real usage is known.
func NewMessagesTranslator(sink Sink, model string, estimate int, buffered bool) *MessagesTranslator {
	return &MessagesTranslator{
		sink:     sink,
		model:    model,
		estimate: estimate,
		buffered: buffered,
	}
}

func (t *MessagesTranslator) emit(frame Frame) error {
	if t.buffered {
		t.frames = append(t.frames, frame)
		return nil
	}
	return t.sink(frame)
}

func (t *MessagesTranslator) ensureStarted() error {
	if t.started {
		return nil
	}
	t.started = true
	return t.emit(Frame{
		Event: "message_start",
		Data: map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":            "msg_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
				"type":          "message",
				"role":          "assistant",
				"model":         t.model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage": map[string]interface{}{
					"input_tokens":  t.estimate,
					"output_tokens": 0,
				},
			},
		},
	})
}

func (t *MessagesTranslator) closeBlock() error {
	if !t.blockOpen {
		return nil
	}
	t.blockOpen = false
	err := t.emit(Frame{
		Event: "content_block_stop",
		Data:  map[string]interface{}{"type": "content_block_stop", "index": t.blockIndex},
	})
	t.blockIndex++
	return err
}

func (t *MessagesTranslator) openBlock(kind string, block map[string]interface{}) error {
	t.blockOpen = true
	t.blockKind = kind
	return t.emit(Frame{
		Event: "content_block_start",
		Data: map[string]interface{}{
			"type":          "content_block_start",
			"index":         t.blockIndex,
			"content_block": block,
		},
	})
}

func (t *MessagesTranslator) delta(delta map[string]interface{}) error {
	return t.emit(Frame{
		Event: "content_block_delta",
		Data: map[string]interface{}{
			"type":  "content_block_delta",
			"index": t.blockIndex,
			"delta": delta,
		},
	})
}

// Feed translates one neutral event into zero or more frames.
func (t *MessagesTranslator) Feed(ev Event) error {
	if err := t.ensureStarted(); err != nil {
		return err
	}
	switch ev.Kind {
	case EventText:
		if t.blockOpen && t.blockKind != "text" {
			if err := t.closeBlock(); err != nil {
				return err
			}
		}
		if !t.blockOpen {
			if err := t.openBlock("text", map[string]interface{}{"type": "text", "text": ""}); err != nil {
				return err
			}
		}
		return t.delta(map[string]interface{}{"type": "text_delta", "text": ev.Text})

	case EventThinking:
		if t.blockOpen && t.blockKind != "thinking" {
			if err := t.closeBlock(); err != nil {
				return err
			}
		}
		if !t.blockOpen {
			if err := t.openBlock("thinking", map[string]interface{}{"type": "thinking", "thinking": ""}); err != nil {
				return err
			}
		}
		if ev.Text != "" {
			if err := t.delta(map[string]interface{}{"type": "thinking_delta", "thinking": ev.Text}); err != nil {
				return err
			}
		}
		if ev.Signature != "" {
			return t.delta(map[string]interface{}{"type": "signature_delta", "signature": ev.Signature})
		}
		return nil

	case EventToolCall:
		// Every call opens a fresh block, even back to back.
		if err := t.closeBlock(); err != nil {
			return err
		}
		if err := t.openBlock("tool_use", map[string]interface{}{
			"type":  "tool_use",
			"id":    ev.ToolID,
			"name":  ev.ToolName,
			"input": map[string]interface{}{},
		}); err != nil {
			return err
		}
		if ev.ToolArgs != "" && ev.ToolArgs != "{}" {
			return t.delta(map[string]interface{}{"type": "input_json_delta", "partial_json": ev.ToolArgs})
		}
		return nil

	case EventToolArgs:
		if t.blockOpen && t.blockKind == "tool_use" && ev.ToolArgs != "" {
			return t.delta(map[string]interface{}{"type": "input_json_delta", "partial_json": ev.ToolArgs})
		}
		return nil

	case EventFinish:
		if ev.StopReason != "" {
			t.stopReason = ev.StopReason
		}
		if ev.Usage != nil {
			t.usage = ev.Usage
		}
		return nil
	}
	// Image deltas have no Messages framing; they are dropped here.
	return nil
}

// Ping writes a keep-alive frame straight to the sink, bypassing the
// buffer so heartbeats reach the client while buffering. After the stream
// has finished it is a no-op so a ping never trails the sentinel.
func (t *MessagesTranslator) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return nil
	}
	return t.sink(Frame{Event: "ping", Data: map[string]interface{}{"type": "ping"}})
}

// close marks the translator finished and reports whether this caller won.
func (t *MessagesTranslator) close() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return false
	}
	t.finished = true
	return true
}

func anthropicStop(reason string) string {
	switch reason {
	case "max_tokens":
		return "max_tokens"
	case "tool_use":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// Finish closes the message and emits the sentinel. In buffered mode the
// held sequence is flushed after the first frame's usage is rewritten with
// the real value.
func (t *MessagesTranslator) Finish() error {
	if !t.close() {
		return nil
	}

	if err := t.ensureStarted(); err != nil {
		return err
	}
	if err := t.closeBlock(); err != nil {
		return err
	}

	outputTokens := 0
	if t.usage != nil {
		outputTokens = t.usage.Output
	}
	if err := t.emit(Frame{
		Event: "message_delta",
		Data: map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]interface{}{
				"stop_reason":   anthropicStop(t.stopReason),
				"stop_sequence": nil,
			},
			"usage": map[string]interface{}{"output_tokens": outputTokens},
		},
	}); err != nil {
		return err
	}
	if err := t.emit(Frame{Event: "message_stop", Data: map[string]interface{}{"type": "message_stop"}}); err != nil {
		return err
	}

	if t.buffered {
		if t.usage != nil && len(t.frames) > 0 {
			if message, ok := t.frames[0].Data["message"].(map[string]interface{}); ok {
				message["usage"] = map[string]interface{}{
					"input_tokens":  t.usage.Input,
					"output_tokens": t.usage.Output,
				}
			}
		}
		for _, frame := range t.frames {
			if err := t.sink(frame); err != nil {
				return err
			}
		}
		t.frames = nil
	}
	return t.sink(Frame{Raw: DoneSentinel})
}

// Fail emits an in-band error event followed by the sentinel. Frames held
// in buffered mode are flushed first so partial output is not lost.
func (t *MessagesTranslator) Fail(errType, message string) error {
	if !t.close() {
		return nil
	}

	if t.buffered {
		for _, frame := range t.frames {
			if err := t.sink(frame); err != nil {
				return err
			}
		}
		t.frames = nil
	}
	if err := t.sink(Frame{
		Event: "error",
		Data: map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    errType,
				"message": message,
			},
		},
	}); err != nil {
		return err
	}
	return t.sink(Frame{Raw: DoneSentinel})
}

// Usage reports the final usage seen on the stream, if any.
func (t *MessagesTranslator) Usage() (tokencount.Usage, bool) {
	if t.usage == nil {
		return tokencount.Usage{}, false
	}
	return *t.usage, true
}
