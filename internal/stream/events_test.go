package stream

import (
	"testing"

	"github.com/hhszzzz/antihub/internal/adapter"
)

func TestParseGeminiEventFanOut(t *testing.T) {
	data := []byte(`{"response":{"candidates":[{"content":{"parts":[
		{"text":"mull","thought":true},
		{"text":"hello"},
		{"thoughtSignature":"opaque-only"},
		{"functionCall":{"name":"get_weather","args":{"city":"Tokyo"}}}]},
		"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":10,"cachedContentTokenCount":1,
		"candidatesTokenCount":5,"totalTokenCount":16,"thoughtsTokenCount":2}}}`)

	events := ParseGeminiEvent(data, adapter.NewToolCallIDGenerator())
	if len(events) != 4 {
		t.Fatalf("events = %d, want thinking+text+tool+finish", len(events))
	}
	if events[0].Kind != EventThinking || events[0].Text != "mull" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Kind != EventText || events[1].Text != "hello" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Kind != EventToolCall || events[2].ToolName != "get_weather" || events[2].ToolID == "" {
		t.Errorf("event 2 = %+v", events[2])
	}
	finish := events[3]
	if finish.Kind != EventFinish || finish.Usage == nil {
		t.Fatalf("event 3 = %+v", finish)
	}
	if finish.Usage.Input != 11 || finish.Usage.Output != 5 || finish.Usage.Total != 16 {
		t.Errorf("usage = %+v", finish.Usage)
	}
}

func TestParseGeminiEventSignatureOnlyRendersNothing(t *testing.T) {
	data := []byte(`{"candidates":[{"content":{"parts":[{"thoughtSignature":"abc"}]}}]}`)
	events := ParseGeminiEvent(data, adapter.NewToolCallIDGenerator())
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
}

func TestParseOpenAIChunk(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, events []Event)
	}{
		{
			name: "content delta",
			data: `{"choices":[{"delta":{"content":"hi"}}]}`,
			check: func(t *testing.T, events []Event) {
				if len(events) != 1 || events[0].Kind != EventText || events[0].Text != "hi" {
					t.Errorf("events = %+v", events)
				}
			},
		},
		{
			name: "tool call start then argument continuation",
			data: `{"choices":[{"delta":{"tool_calls":[
				{"index":0,"id":"call_1","function":{"name":"f","arguments":"{\"a\""}},
				{"index":0,"function":{"arguments":":1}"}}]}}]}`,
			check: func(t *testing.T, events []Event) {
				if len(events) != 2 {
					t.Fatalf("events = %+v", events)
				}
				if events[0].Kind != EventToolCall || events[0].ToolID != "call_1" {
					t.Errorf("start = %+v", events[0])
				}
				if events[1].Kind != EventToolArgs || events[1].ToolArgs != ":1}" {
					t.Errorf("continuation = %+v", events[1])
				}
			},
		},
		{
			name: "finish with usage",
			data: `{"choices":[{"delta":{},"finish_reason":"stop"}],
				"usage":{"prompt_tokens":3,"completion_tokens":7,"total_tokens":10}}`,
			check: func(t *testing.T, events []Event) {
				if len(events) != 1 || events[0].Kind != EventFinish {
					t.Fatalf("events = %+v", events)
				}
				if events[0].StopReason != "stop" || events[0].Usage == nil || events[0].Usage.Output != 7 {
					t.Errorf("finish = %+v", events[0])
				}
			},
		},
		{
			name: "reasoning delta",
			data: `{"choices":[{"delta":{"reasoning_content":"hmm"}}]}`,
			check: func(t *testing.T, events []Event) {
				if len(events) != 1 || events[0].Kind != EventThinking {
					t.Errorf("events = %+v", events)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ParseOpenAIChunk([]byte(tt.data)))
		})
	}
}
