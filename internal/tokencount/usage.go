package tokencount

import (
	"github.com/tidwall/gjson"
)

// Usage is the normalized token accounting for one request.
type Usage struct {
	Input     int `json:"input_tokens"`
	Output    int `json:"output_tokens"`
	Total     int `json:"total_tokens"`
	Reasoning int `json:"reasoning_tokens,omitempty"`
}

// Field names vary across upstream revisions, so every value is resolved by
// an ordered list of paths tried in priority order; the first present match
// wins. Keep the lists explicit so provider quirks stay visible and tested.
var (
	geminiUsageRoots = []string{"usageMetadata", "cpaUsageMetadata", "response.usageMetadata", "response.cpaUsageMetadata"}

	openaiPromptPaths = []string{"usage.prompt_tokens", "usage.input_tokens"}
	openaiOutputPaths = []string{"usage.completion_tokens", "usage.output_tokens"}
	openaiTotalPaths  = []string{"usage.total_tokens"}
	openaiReasonPaths = []string{"usage.completion_tokens_details.reasoning_tokens", "usage.output_tokens_details.reasoning_tokens"}
)

func firstInt(doc []byte, paths []string) (int, bool) {
	for _, path := range paths {
		if v := gjson.GetBytes(doc, path); v.Exists() {
			return int(v.Int()), true
		}
	}
	return 0, false
}

// ExtractGeminiUsage reads a usageMetadata block. Cached prompt tokens are
// billed differently upstream, so the effective input is the raw prompt
// count minus the cached count plus the thoughts count.
func ExtractGeminiUsage(doc []byte) (Usage, bool) {
	for _, root := range geminiUsageRoots {
		meta := gjson.GetBytes(doc, root)
		if !meta.Exists() {
			continue
		}
		prompt := int(meta.Get("promptTokenCount").Int())
		cached := int(meta.Get("cachedContentTokenCount").Int())
		thoughts := int(meta.Get("thoughtsTokenCount").Int())
		output := int(meta.Get("candidatesTokenCount").Int())

		usage := Usage{
			Input:     prompt - cached + thoughts,
			Output:    output,
			Reasoning: thoughts,
		}
		if total := meta.Get("totalTokenCount"); total.Exists() {
			usage.Total = int(total.Int())
		} else {
			usage.Total = usage.Input + usage.Output
		}
		return usage, true
	}
	return Usage{}, false
}

// ExtractOpenAIUsage reads a chat-completions style usage block.
func ExtractOpenAIUsage(doc []byte) (Usage, bool) {
	input, okIn := firstInt(doc, openaiPromptPaths)
	output, okOut := firstInt(doc, openaiOutputPaths)
	if !okIn && !okOut {
		return Usage{}, false
	}
	usage := Usage{Input: input, Output: output}
	if total, ok := firstInt(doc, openaiTotalPaths); ok {
		usage.Total = total
	} else {
		usage.Total = input + output
	}
	if reasoning, ok := firstInt(doc, openaiReasonPaths); ok {
		usage.Reasoning = reasoning
	}
	return usage, true
}

// ExtractUsage tries every known usage shape in order.
func ExtractUsage(doc []byte) (Usage, bool) {
	if usage, ok := ExtractGeminiUsage(doc); ok {
		return usage, ok
	}
	return ExtractOpenAIUsage(doc)
}
