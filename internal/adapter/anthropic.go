package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hhszzzz/antihub/internal/tokencount"
)

// AnthropicRequest mirrors the Messages API request body. Content fields
// that accept both strings and block arrays stay as json.RawMessage and are
// decoded on demand.
type AnthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        json.RawMessage    `json:"system,omitempty"`
	Messages      []AnthropicMessage `json:"messages"`
	Tools         []json.RawMessage  `json:"tools,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// AnthropicMessage is one conversation turn.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// anthropicBlock covers every content block type in one shape.
type anthropicBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"` // redacted_thinking payload

	Source *anthropicImageSource `json:"source,omitempty"`

	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// AnthropicToCanonical parses and normalizes a Messages API request.
func AnthropicToCanonical(body []byte) (*Request, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages is required")
	}

	out := &Request{
		Model:  req.Model,
		System: anthropicSystemText(req.System),
		Stream: req.Stream,
		Params: GenParams{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
			Stop:        req.StopSequences,
		},
	}

	for _, raw := range req.Tools {
		tool, ok := anthropicTool(raw)
		if ok {
			out.Tools = append(out.Tools, tool)
		}
	}

	for _, msg := range req.Messages {
		parts, err := anthropicContentParts(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("message content: %w", err)
		}
		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		out.Messages = append(out.Messages, Message{Role: role, Parts: parts})
	}
	return out, nil
}

// anthropicSystemText flattens a system field that may be a plain string or
// a list of text blocks.
func anthropicSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func anthropicTool(raw json.RawMessage) (Tool, bool) {
	var probe struct {
		Type        string                 `json:"type"`
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		InputSchema map[string]interface{} `json:"input_schema"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Tool{}, false
	}
	if strings.HasPrefix(probe.Type, "web_search") {
		return Tool{Name: "web_search", WebSearch: true}, true
	}
	if probe.Name == "" {
		return Tool{}, false
	}
	return Tool{
		Name:        probe.Name,
		Description: probe.Description,
		Parameters:  probe.InputSchema,
	}, true
}

func anthropicContentParts(raw json.RawMessage) ([]Part, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []Part{{Kind: PartText, Text: s}}, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or block array")
	}

	var parts []Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, Part{Kind: PartText, Text: b.Text})
			}
		case "thinking":
			parts = append(parts, Part{Kind: PartThinking, Text: b.Thinking, Signature: b.Signature})
		case "redacted_thinking":
			// Opaque provider-internal state with no renderable payload.
			parts = append(parts, Part{Kind: PartThinking, Signature: b.Data})
		case "image":
			if part, ok := anthropicImagePart(b.Source); ok {
				parts = append(parts, part)
			}
		case "tool_use":
			parts = append(parts, Part{
				Kind:     PartToolCall,
				ToolID:   b.ID,
				ToolName: b.Name,
				ToolArgs: b.Input,
			})
		case "tool_result":
			parts = append(parts, Part{
				Kind:    PartToolResult,
				ToolID:  b.ToolUseID,
				Text:    anthropicResultText(b.Content),
				IsError: b.IsError,
			})
		}
	}
	return parts, nil
}

func anthropicImagePart(source *anthropicImageSource) (Part, bool) {
	if source == nil {
		return Part{}, false
	}
	switch source.Type {
	case "base64":
		return Part{Kind: PartImage, MimeType: source.MediaType, Data: source.Data}, true
	case "url":
		if mimeType, data, ok := parseDataURL(source.URL); ok {
			return Part{Kind: PartImage, MimeType: mimeType, Data: data}, true
		}
	}
	// Remote URLs are unsupported; drop rather than fail the request.
	return Part{}, false
}

func anthropicResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// AnthropicUsage is the usage block of a Messages API response.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is a buffered Messages API response.
type AnthropicResponse struct {
	ID           string                   `json:"id"`
	Type         string                   `json:"type"`
	Role         string                   `json:"role"`
	Model        string                   `json:"model"`
	Content      []map[string]interface{} `json:"content"`
	StopReason   string                   `json:"stop_reason"`
	StopSequence *string                  `json:"stop_sequence"`
	Usage        AnthropicUsage           `json:"usage"`
}

// ResponseToAnthropic renders a canonical response as a Messages API body.
func ResponseToAnthropic(resp *Response) *AnthropicResponse {
	out := &AnthropicResponse{
		ID:         "msg_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    []map[string]interface{}{},
		StopReason: anthropicStopReason(resp.StopReason),
		Usage:      AnthropicUsage{InputTokens: resp.Usage.Input, OutputTokens: resp.Usage.Output},
	}
	for _, part := range resp.Parts {
		switch part.Kind {
		case PartText:
			out.Content = append(out.Content, map[string]interface{}{
				"type": "text",
				"text": part.Text,
			})
		case PartThinking:
			block := map[string]interface{}{
				"type":     "thinking",
				"thinking": part.Text,
			}
			if part.Signature != "" {
				block["signature"] = part.Signature
			}
			out.Content = append(out.Content, block)
		case PartToolCall:
			args := part.ToolArgs
			if args == nil {
				args = map[string]interface{}{}
			}
			out.Content = append(out.Content, map[string]interface{}{
				"type":  "tool_use",
				"id":    part.ToolID,
				"name":  part.ToolName,
				"input": args,
			})
		}
	}
	return out
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return "max_tokens"
	case "tool_use":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// EstimatorInput flattens a canonical request into the estimator's inputs.
func EstimatorInput(req *Request) (system string, texts []string, tools string) {
	system = req.System
	texts = req.TextContents()
	if len(req.Tools) > 0 {
		serialized, err := json.Marshal(req.Tools)
		if err == nil {
			tools = string(serialized)
		}
	}
	return system, texts, tools
}

// EstimateRequestTokens runs the documented heuristic over a canonical request.
func EstimateRequestTokens(req *Request) int {
	system, texts, tools := EstimatorInput(req)
	return tokencount.Estimate(system, texts, tools)
}
