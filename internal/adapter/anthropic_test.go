package adapter

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAnthropicToCanonical(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, req *Request)
	}{
		{
			name: "string content",
			body: `{"model":"m1","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`,
			check: func(t *testing.T, req *Request) {
				if len(req.Messages) != 1 || len(req.Messages[0].Parts) != 1 {
					t.Fatalf("unexpected message shape: %+v", req.Messages)
				}
				part := req.Messages[0].Parts[0]
				if part.Kind != PartText || part.Text != "Hi" {
					t.Errorf("part = %+v, want text Hi", part)
				}
				if req.Params.MaxTokens != 100 {
					t.Errorf("max_tokens = %d, want 100", req.Params.MaxTokens)
				}
			},
		},
		{
			name: "system as block list",
			body: `{"model":"m1","system":[{"type":"text","text":"a"},{"type":"text","text":"b"}],
				"messages":[{"role":"user","content":"x"}]}`,
			check: func(t *testing.T, req *Request) {
				if req.System != "a\nb" {
					t.Errorf("system = %q, want joined blocks", req.System)
				}
			},
		},
		{
			name: "tool use and tool result blocks",
			body: `{"model":"m1","messages":[
				{"role":"assistant","content":[{"type":"tool_use","id":"call_1","name":"get_weather","input":{"city":"Tokyo"}}]},
				{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_1","content":"sunny"}]}]}`,
			check: func(t *testing.T, req *Request) {
				call := req.Messages[0].Parts[0]
				if call.Kind != PartToolCall || call.ToolID != "call_1" || call.ToolName != "get_weather" {
					t.Errorf("tool call part = %+v", call)
				}
				if !reflect.DeepEqual(call.ToolArgs, map[string]interface{}{"city": "Tokyo"}) {
					t.Errorf("tool args = %v", call.ToolArgs)
				}
				result := req.Messages[1].Parts[0]
				if result.Kind != PartToolResult || result.ToolID != "call_1" || result.Text != "sunny" {
					t.Errorf("tool result part = %+v", result)
				}
			},
		},
		{
			name: "base64 image kept, remote url dropped",
			body: `{"model":"m1","messages":[{"role":"user","content":[
				{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aGk="}},
				{"type":"image","source":{"type":"url","url":"https://example.com/cat.png"}},
				{"type":"text","text":"what is this"}]}]}`,
			check: func(t *testing.T, req *Request) {
				parts := req.Messages[0].Parts
				if len(parts) != 2 {
					t.Fatalf("got %d parts, want image+text with remote url dropped", len(parts))
				}
				if parts[0].Kind != PartImage || parts[0].MimeType != "image/png" || parts[0].Data != "aGk=" {
					t.Errorf("image part = %+v", parts[0])
				}
			},
		},
		{
			name: "web search tool normalized",
			body: `{"model":"m1","messages":[{"role":"user","content":"x"}],
				"tools":[{"type":"web_search_20250305","name":"web_search"}]}`,
			check: func(t *testing.T, req *Request) {
				if len(req.Tools) != 1 || !req.Tools[0].WebSearch {
					t.Errorf("tools = %+v, want one web search tool", req.Tools)
				}
			},
		},
		{
			name:    "missing model",
			body:    `{"messages":[{"role":"user","content":"x"}]}`,
			wantErr: true,
		},
		{
			name:    "missing messages",
			body:    `{"model":"m1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := AnthropicToCanonical([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("AnthropicToCanonical() error: %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestResponseToAnthropic(t *testing.T) {
	resp := &Response{
		Model: "m1",
		Parts: []Part{
			{Kind: PartThinking, Text: "pondering", Signature: "sig-1"},
			{Kind: PartText, Text: "answer"},
			{Kind: PartToolCall, ToolID: "call_9", ToolName: "lookup", ToolArgs: map[string]interface{}{"q": "x"}},
		},
		StopReason: "tool_use",
	}
	resp.Usage.Input = 11
	resp.Usage.Output = 5

	out := ResponseToAnthropic(resp)
	if out.Type != "message" || out.Role != "assistant" {
		t.Errorf("envelope = %s/%s", out.Type, out.Role)
	}
	if out.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q", out.StopReason)
	}
	if len(out.Content) != 3 {
		t.Fatalf("content blocks = %d, want 3", len(out.Content))
	}
	if out.Content[0]["type"] != "thinking" || out.Content[0]["signature"] != "sig-1" {
		t.Errorf("thinking block = %v", out.Content[0])
	}
	if out.Content[1]["type"] != "text" || out.Content[1]["text"] != "answer" {
		t.Errorf("text block = %v", out.Content[1])
	}
	if out.Content[2]["type"] != "tool_use" || out.Content[2]["id"] != "call_9" {
		t.Errorf("tool block = %v", out.Content[2])
	}
	if out.Usage.InputTokens != 11 || out.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", out.Usage)
	}

	// The rendered body must be valid JSON for the wire.
	if _, err := json.Marshal(out); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}

func TestEstimateRequestTokens(t *testing.T) {
	// 15 system chars + 1 message char = 16 ASCII units, so 4 tokens.
	req := &Request{
		System: "You are helpful",
		Messages: []Message{
			{Role: "user", Parts: []Part{{Kind: PartText, Text: "H"}}},
		},
	}
	if got := EstimateRequestTokens(req); got != 4 {
		t.Errorf("EstimateRequestTokens() = %d, want 4", got)
	}
}
