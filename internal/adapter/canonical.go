// Package adapter converts request and response bodies between the gateway's
// external wire formats (Anthropic Messages, OpenAI Chat Completions) and
// each provider's native format. All conversions go through the Canonical
// in-memory shape so every format pair shares one code path.
package adapter

import (
	"encoding/base64"
	"strings"

	"github.com/hhszzzz/antihub/internal/tokencount"
)

// Part kinds.
const (
	PartText       = "text"
	PartImage      = "image"
	PartToolCall   = "tool_call"
	PartToolResult = "tool_result"
	PartThinking   = "thinking"
)

// Part is one role-tagged content item.
type Part struct {
	Kind string

	Text      string // text, thinking, textual tool result
	Signature string // opaque continuation signature on thinking parts

	MimeType string // image
	Data     string // image payload, base64

	ToolID   string
	ToolName string
	ToolArgs map[string]interface{} // tool_call arguments
	IsError  bool                   // tool_result error flag
}

// Message is an ordered list of parts under one role ("user" or "assistant").
type Message struct {
	Role  string
	Parts []Part
}

// Tool is a normalized tool declaration. WebSearch marks the grounded
// search tool, which has no schema.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	WebSearch   bool
}

// GenParams carries the generation knobs shared by every provider.
type GenParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
}

// Request is the canonical form of an inbound completion request. It lives
// for the duration of one request and is never persisted.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []Tool
	Params   GenParams
	Stream   bool
}

// Response is the canonical form of a provider's completion result.
type Response struct {
	Model      string
	Parts      []Part
	StopReason string // "stop", "max_tokens", "tool_use"
	Usage      tokencount.Usage
}

// TextContents returns every text part's content in order, used by the
// token estimator.
func (r *Request) TextContents() []string {
	var texts []string
	for _, msg := range r.Messages {
		for _, part := range msg.Parts {
			if part.Kind == PartText || part.Kind == PartToolResult {
				if part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
		}
	}
	return texts
}

// parseDataURL splits a data: URL into mime type and base64 payload.
// Anything that is not a base64 data URL is rejected; callers drop such
// images silently instead of failing the request.
func parseDataURL(url string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := url[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	header, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(header, ";base64") {
		return "", "", false
	}
	mimeType = strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", false
	}
	return mimeType, payload, true
}
