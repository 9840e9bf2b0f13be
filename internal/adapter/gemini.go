package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/hhszzzz/antihub/internal/tokencount"
)

// GeminiOptions tunes CanonicalToGemini for a specific provider.
type GeminiOptions struct {
	// SkipSignatureValidator stamps function-call and image parts with the
	// sentinel signature the Cloud Code backend expects when the client
	// cannot replay real thought signatures.
	SkipSignatureValidator bool
}

const skipSignatureSentinel = "skip_thought_signature_validator"

// CanonicalToGemini renders a canonical request in the Gemini native shape
// shared by the Cloud Code providers.
func CanonicalToGemini(req *Request, opts GeminiOptions) map[string]interface{} {
	var contents []map[string]interface{}

	if req.System != "" && len(req.Messages) == 0 {
		// An entirely-system conversation is rejected upstream; promote
		// the preamble to a user turn instead.
		contents = append(contents, map[string]interface{}{
			"role":  "user",
			"parts": []map[string]interface{}{{"text": req.System}},
		})
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		parts := geminiParts(msg.Parts, opts)
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": parts,
		})
	}

	body := map[string]interface{}{"contents": contents}

	if req.System != "" && len(req.Messages) > 0 {
		body["systemInstruction"] = map[string]interface{}{
			"role":  "user",
			"parts": []map[string]interface{}{{"text": req.System}},
		}
	}

	generationConfig := map[string]interface{}{}
	if req.Params.Temperature != nil {
		generationConfig["temperature"] = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		generationConfig["topP"] = *req.Params.TopP
	}
	if req.Params.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = req.Params.MaxTokens
	}
	if len(req.Params.Stop) > 0 {
		generationConfig["stopSequences"] = req.Params.Stop
	}
	if len(generationConfig) > 0 {
		body["generationConfig"] = generationConfig
	}

	if tools := geminiTools(req.Tools); len(tools) > 0 {
		body["tools"] = tools
	}

	// Inject explicit permissive settings so behavior does not depend on
	// the provider's defaults.
	body["safetySettings"] = defaultSafetySettings()

	return body
}

func defaultSafetySettings() []map[string]string {
	return []map[string]string{
		{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "OFF"},
		{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "OFF"},
		{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "OFF"},
		{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "OFF"},
		{"category": "HARM_CATEGORY_CIVIC_INTEGRITY", "threshold": "BLOCK_NONE"},
	}
}

func geminiParts(parts []Part, opts GeminiOptions) []map[string]interface{} {
	var out []map[string]interface{}
	for _, part := range parts {
		switch part.Kind {
		case PartText:
			if part.Text != "" {
				out = append(out, map[string]interface{}{"text": part.Text})
			}
		case PartThinking:
			if part.Text == "" {
				// Signature-only thinking state carries no content.
				continue
			}
			thought := map[string]interface{}{"text": part.Text, "thought": true}
			if part.Signature != "" {
				thought["thoughtSignature"] = part.Signature
			}
			out = append(out, thought)
		case PartImage:
			image := map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": part.MimeType,
					"data":     part.Data,
				},
			}
			if opts.SkipSignatureValidator {
				image["thoughtSignature"] = skipSignatureSentinel
			}
			out = append(out, image)
		case PartToolCall:
			args := part.ToolArgs
			if args == nil {
				args = map[string]interface{}{}
			}
			call := map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": part.ToolName,
					"args": args,
				},
			}
			if opts.SkipSignatureValidator {
				call["thoughtSignature"] = skipSignatureSentinel
			}
			out = append(out, call)
		case PartToolResult:
			name := part.ToolName
			if name == "" {
				name = part.ToolID
			}
			out = append(out, map[string]interface{}{
				"functionResponse": map[string]interface{}{
					"name": name,
					"response": map[string]interface{}{
						"result": part.Text,
					},
				},
			})
		}
	}
	return out
}

func geminiTools(tools []Tool) []map[string]interface{} {
	var declarations []map[string]interface{}
	webSearch := false
	for _, tool := range tools {
		if tool.WebSearch {
			webSearch = true
			continue
		}
		declaration := map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
		}
		if cleaned := cleanSchemaForGemini(tool.Parameters); cleaned != nil {
			declaration["parameters"] = cleaned
		}
		declarations = append(declarations, declaration)
	}

	var out []map[string]interface{}
	if len(declarations) > 0 {
		out = append(out, map[string]interface{}{"functionDeclarations": declarations})
	}
	if webSearch {
		out = append(out, map[string]interface{}{"googleSearch": map[string]interface{}{}})
	}
	return out
}

// cleanSchemaForGemini strips JSON Schema constructs the Gemini backend
// rejects and rewrites exclusive bounds as inclusive ones.
func cleanSchemaForGemini(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	cleaned := make(map[string]interface{}, len(schema))
	for key, value := range schema {
		switch key {
		case "$schema", "$id", "$ref", "$defs", "definitions",
			"additionalProperties", "strict", "allOf", "anyOf", "oneOf", "not":
			continue
		case "exclusiveMinimum":
			if n, ok := value.(float64); ok {
				cleaned["minimum"] = n + 1
			}
			continue
		case "exclusiveMaximum":
			if n, ok := value.(float64); ok {
				cleaned["maximum"] = n - 1
			}
			continue
		}
		cleaned[key] = cleanSchemaValue(value)
	}
	return cleaned
}

func cleanSchemaValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return cleanSchemaForGemini(v)
	case []interface{}:
		cleaned := make([]interface{}, len(v))
		for i, item := range v {
			cleaned[i] = cleanSchemaValue(item)
		}
		return cleaned
	default:
		return value
	}
}

// geminiPart is the parsed form of one native response part.
type geminiPart struct {
	Text             string              `json:"text"`
	Thought          bool                `json:"thought"`
	ThoughtSignature string              `json:"thoughtSignature"`
	FunctionCall     *geminiFunctionCall `json:"functionCall"`
	InlineData       *geminiInlineData   `json:"inlineData"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiPartToCanonical converts one native part. The ok result is false
// for parts that produce no content, including signature-only parts.
func GeminiPartToCanonical(raw json.RawMessage, ids *ToolCallIDGenerator) (Part, bool) {
	var part geminiPart
	if err := json.Unmarshal(raw, &part); err != nil {
		return Part{}, false
	}
	switch {
	case part.FunctionCall != nil:
		return Part{
			Kind:     PartToolCall,
			ToolID:   ids.Next(part.FunctionCall.Name),
			ToolName: part.FunctionCall.Name,
			ToolArgs: part.FunctionCall.Args,
		}, true
	case part.InlineData != nil:
		return Part{
			Kind:     PartImage,
			MimeType: part.InlineData.MimeType,
			Data:     part.InlineData.Data,
		}, true
	case part.Thought && part.Text != "":
		return Part{Kind: PartThinking, Text: part.Text, Signature: part.ThoughtSignature}, true
	case part.Text != "":
		return Part{Kind: PartText, Text: part.Text}, true
	}
	// A bare thoughtSignature (or an empty part) renders nothing.
	return Part{}, false
}

// GeminiResponseToCanonical parses a buffered native response, unwrapping
// the Cloud Code envelope when present.
func GeminiResponseToCanonical(doc []byte, model string, ids *ToolCallIDGenerator) (*Response, error) {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	payload := doc
	if err := json.Unmarshal(doc, &envelope); err == nil && len(envelope.Response) > 0 {
		payload = envelope.Response
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []json.RawMessage `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("invalid upstream response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("upstream response has no candidates")
	}

	out := &Response{Model: model}
	candidate := resp.Candidates[0]
	for _, raw := range candidate.Content.Parts {
		if part, ok := GeminiPartToCanonical(raw, ids); ok {
			out.Parts = append(out.Parts, part)
		}
	}
	out.StopReason = canonicalStopFromGemini(candidate.FinishReason, out.Parts)
	if usage, ok := tokencount.ExtractGeminiUsage(doc); ok {
		out.Usage = usage
	}
	return out, nil
}

func canonicalStopFromGemini(reason string, parts []Part) string {
	for _, part := range parts {
		if part.Kind == PartToolCall {
			return "tool_use"
		}
	}
	if reason == "MAX_TOKENS" {
		return "max_tokens"
	}
	return "stop"
}
