package stream

import (
	"encoding/json"

	"github.com/hhszzzz/antihub/internal/adapter"
	"github.com/hhszzzz/antihub/internal/tokencount"
)

// Event kinds produced by the upstream parsers.
const (
	EventText     = "text"
	EventThinking = "thinking"
	EventToolCall = "tool_call"
	EventToolArgs = "tool_args"
	EventImage    = "image"
	EventFinish   = "finish"
)

// Event is one neutral stream increment. A single upstream SSE event may
// fan out into several of these.
type Event struct {
	Kind string

	Text      string
	Signature string

	ToolID   string
	ToolName string
	ToolArgs string // JSON fragment of the arguments

	MimeType string
	Data     string

	StopReason string
	Usage      *tokencount.Usage
}

// ParseGeminiEvent fans one native stream event out into neutral events.
// Signature-only parts render nothing. Function calls are assigned ids from
// the translator's generator since the native format has none.
func ParseGeminiEvent(data []byte, ids *adapter.ToolCallIDGenerator) []Event {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	payload := data
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Response) > 0 {
		payload = envelope.Response
	}

	var event struct {
		Candidates []struct {
			Content struct {
				Parts []json.RawMessage `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil
	}

	var out []Event
	var finishReason string
	for _, candidate := range event.Candidates {
		for _, raw := range candidate.Content.Parts {
			part, ok := adapter.GeminiPartToCanonical(raw, ids)
			if !ok {
				continue
			}
			switch part.Kind {
			case adapter.PartText:
				out = append(out, Event{Kind: EventText, Text: part.Text})
			case adapter.PartThinking:
				out = append(out, Event{Kind: EventThinking, Text: part.Text, Signature: part.Signature})
			case adapter.PartToolCall:
				arguments, _ := json.Marshal(part.ToolArgs)
				out = append(out, Event{
					Kind:     EventToolCall,
					ToolID:   part.ToolID,
					ToolName: part.ToolName,
					ToolArgs: string(arguments),
				})
			case adapter.PartImage:
				out = append(out, Event{Kind: EventImage, MimeType: part.MimeType, Data: part.Data})
			}
		}
		if candidate.FinishReason != "" {
			finishReason = candidate.FinishReason
		}
	}

	usage, hasUsage := tokencount.ExtractGeminiUsage(data)
	if finishReason != "" || hasUsage {
		finish := Event{Kind: EventFinish}
		if finishReason == "MAX_TOKENS" {
			finish.StopReason = "max_tokens"
		} else if finishReason != "" {
			finish.StopReason = "stop"
		}
		if hasUsage {
			finish.Usage = &usage
		}
		out = append(out, finish)
	}
	return out
}

// ParseOpenAIChunk fans one chat.completion.chunk out into neutral events.
func ParseOpenAIChunk(data []byte) []Event {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
				ToolCalls        []struct {
					Index    int    `json:"index"`
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}

	var out []Event
	var finishReason string
	for _, choice := range chunk.Choices {
		if choice.Delta.ReasoningContent != "" {
			out = append(out, Event{Kind: EventThinking, Text: choice.Delta.ReasoningContent})
		}
		if choice.Delta.Content != "" {
			out = append(out, Event{Kind: EventText, Text: choice.Delta.Content})
		}
		for _, call := range choice.Delta.ToolCalls {
			if call.ID != "" || call.Function.Name != "" {
				out = append(out, Event{
					Kind:     EventToolCall,
					ToolID:   call.ID,
					ToolName: call.Function.Name,
					ToolArgs: call.Function.Arguments,
				})
			} else if call.Function.Arguments != "" {
				out = append(out, Event{Kind: EventToolArgs, ToolArgs: call.Function.Arguments})
			}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	usage, hasUsage := tokencount.ExtractOpenAIUsage(data)
	if finishReason != "" || hasUsage {
		finish := Event{Kind: EventFinish}
		switch finishReason {
		case "":
		case "length":
			finish.StopReason = "max_tokens"
		case "tool_calls":
			finish.StopReason = "tool_use"
		default:
			finish.StopReason = "stop"
		}
		if hasUsage {
			finish.Usage = &usage
		}
		out = append(out, finish)
	}
	return out
}
