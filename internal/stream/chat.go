package stream

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hhszzzz/antihub/internal/tokencount"
)

// ChatTranslator converts neutral events into Chat Completions chunk
// frames. Chunks are data-only SSE frames without an event name.
type ChatTranslator struct {
	sink    Sink
	id      string
	model   string
	created int64

	toolIndex  int
	toolOpen   bool
	finished   bool
	stopReason string
	usage      *tokencount.Usage
}

// NewChatTranslator builds a translator for one response stream.
func NewChatTranslator(sink Sink, model string) *ChatTranslator {
	return &ChatTranslator{
		sink:    sink,
		id:      "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (t *ChatTranslator) chunk(delta map[string]interface{}, finishReason interface{}) Frame {
	return Frame{
		Data: map[string]interface{}{
			"id":      t.id,
			"object":  "chat.completion.chunk",
			"created": t.created,
			"model":   t.model,
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"delta":         delta,
					"finish_reason": finishReason,
				},
			},
		},
	}
}

// Feed translates one neutral event into zero or more chunks.
func (t *ChatTranslator) Feed(ev Event) error {
	switch ev.Kind {
	case EventText:
		return t.sink(t.chunk(map[string]interface{}{"content": ev.Text}, nil))

	case EventThinking:
		if ev.Text == "" {
			return nil
		}
		return t.sink(t.chunk(map[string]interface{}{"reasoning_content": ev.Text}, nil))

	case EventToolCall:
		if t.toolOpen {
			t.toolIndex++
		}
		t.toolOpen = true
		call := map[string]interface{}{
			"index": t.toolIndex,
			"id":    ev.ToolID,
			"type":  "function",
			"function": map[string]interface{}{
				"name":      ev.ToolName,
				"arguments": ev.ToolArgs,
			},
		}
		return t.sink(t.chunk(map[string]interface{}{"tool_calls": []map[string]interface{}{call}}, nil))

	case EventToolArgs:
		if !t.toolOpen || ev.ToolArgs == "" {
			return nil
		}
		call := map[string]interface{}{
			"index":    t.toolIndex,
			"function": map[string]interface{}{"arguments": ev.ToolArgs},
		}
		return t.sink(t.chunk(map[string]interface{}{"tool_calls": []map[string]interface{}{call}}, nil))

	case EventImage:
		image := map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": "data:" + ev.MimeType + ";base64," + ev.Data,
			},
		}
		return t.sink(t.chunk(map[string]interface{}{"images": []map[string]interface{}{image}}, nil))

	case EventFinish:
		if ev.StopReason != "" {
			t.stopReason = ev.StopReason
		}
		if ev.Usage != nil {
			t.usage = ev.Usage
		}
	}
	return nil
}

func openaiFinish(reason string) string {
	switch reason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// Finish emits the closing chunk, a usage chunk when usage is known, and
// the sentinel.
func (t *ChatTranslator) Finish() error {
	if t.finished {
		return nil
	}
	t.finished = true

	if err := t.sink(t.chunk(map[string]interface{}{}, openaiFinish(t.stopReason))); err != nil {
		return err
	}
	if t.usage != nil {
		if err := t.sink(Frame{
			Data: map[string]interface{}{
				"id":      t.id,
				"object":  "chat.completion.chunk",
				"created": t.created,
				"model":   t.model,
				"choices": []map[string]interface{}{},
				"usage": map[string]interface{}{
					"prompt_tokens":     t.usage.Input,
					"completion_tokens": t.usage.Output,
					"total_tokens":      t.usage.Total,
				},
			},
		}); err != nil {
			return err
		}
	}
	return t.sink(Frame{Raw: DoneSentinel})
}

// Fail emits an in-band error payload followed by the sentinel.
func (t *ChatTranslator) Fail(errType, message string) error {
	if t.finished {
		return nil
	}
	t.finished = true

	if err := t.sink(Frame{
		Data: map[string]interface{}{
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
func (t *ChatTranslator) Usage() (tokencount.Usage, bool) {
	if t.usage == nil {
		return tokencount.Usage{}, false
	}
	return *t.usage, true
}
