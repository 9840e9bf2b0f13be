package adapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hhszzzz/antihub/internal/tokencount"
)

// OpenAIMessage is one chat message. Content accepts both a plain string
// and a multimodal part array.
type OpenAIMessage struct {
	Role             string           `json:"role"`
	Content          json.RawMessage  `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
}

// OpenAIToolCall is an assistant function invocation.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and JSON-encoded arguments.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAIRequest mirrors the Chat Completions request body.
type OpenAIRequest struct {
	Model               string            `json:"model"`
	Messages            []OpenAIMessage   `json:"messages"`
	Tools               []json.RawMessage `json:"tools,omitempty"`
	Temperature         *float64          `json:"temperature,omitempty"`
	TopP                *float64          `json:"top_p,omitempty"`
	MaxTokens           int               `json:"max_tokens,omitempty"`
	MaxCompletionTokens int               `json:"max_completion_tokens,omitempty"`
	Stop                json.RawMessage   `json:"stop,omitempty"`
	Stream              bool              `json:"stream,omitempty"`
}

type openaiContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// OpenAIToCanonical parses and normalizes a Chat Completions request.
// System and developer turns collapse into the canonical system preamble;
// tool messages become tool-result parts attached to the next user turn.
func OpenAIToCanonical(body []byte) (*Request, error) {
	var req OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = req.MaxCompletionTokens
	}
	out := &Request{
		Model:  req.Model,
		Stream: req.Stream,
		Params: GenParams{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   maxTokens,
			Stop:        parseStop(req.Stop),
		},
	}

	for _, raw := range req.Tools {
		if tool, ok := openaiTool(raw); ok {
			out.Tools = append(out.Tools, tool)
		}
	}

	callNames := map[string]string{} // tool_call_id -> function name
	var systemTexts []string
	var pendingResults []Part

	flushResults := func() {
		if len(pendingResults) > 0 {
			out.Messages = append(out.Messages, Message{Role: "user", Parts: pendingResults})
			pendingResults = nil
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text := openaiContentText(msg.Content); text != "" {
				systemTexts = append(systemTexts, text)
			}
		case "assistant":
			flushResults()
			var parts []Part
			if msg.ReasoningContent != "" {
				parts = append(parts, Part{Kind: PartThinking, Text: msg.ReasoningContent})
			}
			if text := openaiContentText(msg.Content); text != "" {
				parts = append(parts, Part{Kind: PartText, Text: text})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Function.Name
				parts = append(parts, Part{
					Kind:     PartToolCall,
					ToolID:   call.ID,
					ToolName: call.Function.Name,
					ToolArgs: parseArguments(call.Function.Arguments),
				})
			}
			if len(parts) > 0 {
				out.Messages = append(out.Messages, Message{Role: "assistant", Parts: parts})
			}
		case "tool":
			pendingResults = append(pendingResults, Part{
				Kind:     PartToolResult,
				ToolID:   msg.ToolCallID,
				ToolName: callNames[msg.ToolCallID],
				Text:     openaiContentText(msg.Content),
			})
		default: // user
			parts := openaiUserParts(msg.Content)
			if len(pendingResults) > 0 {
				parts = append(pendingResults, parts...)
				pendingResults = nil
			}
			if len(parts) > 0 {
				out.Messages = append(out.Messages, Message{Role: "user", Parts: parts})
			}
		}
	}
	flushResults()

	out.System = strings.Join(systemTexts, "\n")
	return out, nil
}

func parseStop(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func parseArguments(arguments string) map[string]interface{} {
	if arguments == "" {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}

func openaiTool(raw json.RawMessage) (Tool, bool) {
	var probe struct {
		Type     string `json:"type"`
		Function *struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			Parameters  map[string]interface{} `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Tool{}, false
	}
	switch probe.Type {
	case "web_search", "google_search", "web_search_preview":
		return Tool{Name: "web_search", WebSearch: true}, true
	case "function":
		if probe.Function == nil || probe.Function.Name == "" {
			return Tool{}, false
		}
		return Tool{
			Name:        probe.Function.Name,
			Description: probe.Function.Description,
			Parameters:  probe.Function.Parameters,
		}, true
	}
	return Tool{}, false
}

// openaiContentText flattens string-or-parts content down to text.
func openaiContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openaiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// openaiUserParts keeps text and decodable data-URL images; other images
// are dropped silently.
func openaiUserParts(raw json.RawMessage) []Part {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []Part{{Kind: PartText, Text: s}}
	}
	var contentParts []openaiContentPart
	if err := json.Unmarshal(raw, &contentParts); err != nil {
		return nil
	}
	var parts []Part
	for _, p := range contentParts {
		switch {
		case p.Text != "":
			parts = append(parts, Part{Kind: PartText, Text: p.Text})
		case p.ImageURL != nil:
			if mimeType, data, ok := parseDataURL(p.ImageURL.URL); ok {
				parts = append(parts, Part{Kind: PartImage, MimeType: mimeType, Data: data})
			}
		}
	}
	return parts
}

// OpenAIOptions tunes CanonicalToOpenAI for a specific provider.
type OpenAIOptions struct {
	// TextOnly downgrades multimodal content to plain strings for
	// providers without part-array support.
	TextOnly bool
	// PlaceholderTool injects an inert function declaration when the
	// request has none; some providers disable tool-call token handling
	// entirely without it.
	PlaceholderTool bool
	// IncludeUsage asks for usage on the final stream chunk.
	IncludeUsage bool
}

// CanonicalToOpenAI renders a canonical request as an OpenAI-compatible
// body for providers speaking that dialect.
func CanonicalToOpenAI(req *Request, opts OpenAIOptions) map[string]interface{} {
	var messages []map[string]interface{}

	hasConversation := len(req.Messages) > 0
	if req.System != "" {
		role := "system"
		if !hasConversation {
			// A conversation that is nothing but system text gets
			// promoted to a user turn.
			role = "user"
		}
		messages = append(messages, map[string]interface{}{"role": role, "content": req.System})
	}

	for _, msg := range req.Messages {
		if msg.Role == "assistant" {
			messages = append(messages, openaiAssistantMessage(msg))
			continue
		}
		// Tool results are emitted as role:"tool" messages ahead of the
		// remaining user content.
		var userParts []Part
		for _, part := range msg.Parts {
			if part.Kind == PartToolResult {
				messages = append(messages, map[string]interface{}{
					"role":         "tool",
					"tool_call_id": part.ToolID,
					"content":      part.Text,
				})
				continue
			}
			userParts = append(userParts, part)
		}
		if content := openaiUserContent(userParts, opts.TextOnly); content != nil {
			messages = append(messages, map[string]interface{}{"role": "user", "content": content})
		}
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}
	if req.Params.Temperature != nil {
		body["temperature"] = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		body["top_p"] = *req.Params.TopP
	}
	if req.Params.MaxTokens > 0 {
		body["max_tokens"] = req.Params.MaxTokens
	}
	if len(req.Params.Stop) > 0 {
		body["stop"] = req.Params.Stop
	}

	tools := openaiToolList(req.Tools)
	if len(tools) == 0 && opts.PlaceholderTool {
		tools = []map[string]interface{}{placeholderTool()}
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	if req.Stream {
		body["stream"] = true
		if opts.IncludeUsage {
			body["stream_options"] = map[string]interface{}{"include_usage": true}
		}
	}
	return body
}

func openaiAssistantMessage(msg Message) map[string]interface{} {
	out := map[string]interface{}{"role": "assistant"}
	var texts []string
	var toolCalls []map[string]interface{}
	for _, part := range msg.Parts {
		switch part.Kind {
		case PartText:
			texts = append(texts, part.Text)
		case PartToolCall:
			arguments, _ := json.Marshal(part.ToolArgs)
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   part.ToolID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      part.ToolName,
					"arguments": string(arguments),
				},
			})
		}
		// Thinking parts are provider-internal on this dialect and are
		// not sent back upstream.
	}
	out["content"] = strings.Join(texts, "\n")
	if len(toolCalls) > 0 {
		out["tool_calls"] = toolCalls
	}
	return out
}

func openaiUserContent(parts []Part, textOnly bool) interface{} {
	if len(parts) == 0 {
		return nil
	}
	if textOnly {
		var texts []string
		for _, part := range parts {
			if part.Kind == PartText && part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		if len(texts) == 0 {
			return nil
		}
		return strings.Join(texts, "\n")
	}
	var content []map[string]interface{}
	for _, part := range parts {
		switch part.Kind {
		case PartText:
			content = append(content, map[string]interface{}{"type": "text", "text": part.Text})
		case PartImage:
			content = append(content, map[string]interface{}{
				"type": "image_url",
				"image_url": map[string]interface{}{
					"url": "data:" + part.MimeType + ";base64," + part.Data,
				},
			})
		}
	}
	if len(content) == 0 {
		return nil
	}
	return content
}

func openaiToolList(tools []Tool) []map[string]interface{} {
	var out []map[string]interface{}
	for _, tool := range tools {
		if tool.WebSearch {
			// No OpenAI-dialect provider here accepts a grounded search
			// tool; skip instead of failing the request.
			continue
		}
		parameters := tool.Parameters
		if parameters == nil {
			parameters = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  parameters,
			},
		})
	}
	return out
}

func placeholderTool() map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        "do_not_call_me",
			"description": "Do not call this tool under any circumstances.",
			"parameters": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// OpenAIResponseToCanonical parses a buffered chat.completion body.
func OpenAIResponseToCanonical(doc []byte) (*Response, error) {
	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content          string           `json:"content"`
				ReasoningContent string           `json:"reasoning_content"`
				ToolCalls        []OpenAIToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(doc, &resp); err != nil {
		return nil, fmt.Errorf("invalid upstream response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("upstream response has no choices")
	}

	choice := resp.Choices[0]
	out := &Response{Model: resp.Model}
	if choice.Message.ReasoningContent != "" {
		out.Parts = append(out.Parts, Part{Kind: PartThinking, Text: choice.Message.ReasoningContent})
	}
	if choice.Message.Content != "" {
		out.Parts = append(out.Parts, Part{Kind: PartText, Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		out.Parts = append(out.Parts, Part{
			Kind:     PartToolCall,
			ToolID:   call.ID,
			ToolName: call.Function.Name,
			ToolArgs: parseArguments(call.Function.Arguments),
		})
	}
	out.StopReason = canonicalStopFromOpenAI(choice.FinishReason)
	if usage, ok := tokencount.ExtractOpenAIUsage(doc); ok {
		out.Usage = usage
	}
	return out, nil
}

func canonicalStopFromOpenAI(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "stop"
	}
}

// ResponseToOpenAI renders a canonical response as a chat.completion body.
func ResponseToOpenAI(resp *Response) map[string]interface{} {
	message := map[string]interface{}{"role": "assistant"}
	var texts, reasonings []string
	var toolCalls []map[string]interface{}
	for _, part := range resp.Parts {
		switch part.Kind {
		case PartText:
			texts = append(texts, part.Text)
		case PartThinking:
			if part.Text != "" {
				reasonings = append(reasonings, part.Text)
			}
		case PartToolCall:
			arguments, _ := json.Marshal(part.ToolArgs)
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   part.ToolID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      part.ToolName,
					"arguments": string(arguments),
				},
			})
		}
	}
	message["content"] = strings.Join(texts, "")
	if len(reasonings) > 0 {
		message["reasoning_content"] = strings.Join(reasonings, "")
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	finishReason := "stop"
	switch resp.StopReason {
	case "max_tokens":
		finishReason = "length"
	case "tool_use":
		finishReason = "tool_calls"
	}

	return map[string]interface{}{
		"id":      "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   resp.Model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       message,
				"finish_reason": finishReason,
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     resp.Usage.Input,
			"completion_tokens": resp.Usage.Output,
			"total_tokens":      resp.Usage.Total,
		},
	}
}
