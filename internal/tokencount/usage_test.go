package tokencount

import (
	"reflect"
	"testing"
)

func TestExtractGeminiUsage(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		expected Usage
		ok       bool
	}{
		{
			name: "cached tokens subtracted and thoughts added",
			doc: `{"usageMetadata":{"promptTokenCount":10,"cachedContentTokenCount":1,
				"candidatesTokenCount":5,"totalTokenCount":16,"thoughtsTokenCount":2}}`,
			expected: Usage{Input: 11, Output: 5, Total: 16, Reasoning: 2},
			ok:       true,
		},
		{
			name:     "cpaUsageMetadata fallback spelling",
			doc:      `{"cpaUsageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`,
			expected: Usage{Input: 7, Output: 3, Total: 10},
			ok:       true,
		},
		{
			name:     "wrapped response envelope",
			doc:      `{"response":{"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}}`,
			expected: Usage{Input: 4, Output: 2, Total: 6},
			ok:       true,
		},
		{
			name:     "total defaults to input plus output",
			doc:      `{"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":2}}`,
			expected: Usage{Input: 8, Output: 2, Total: 10},
			ok:       true,
		},
		{
			name: "no usage block",
			doc:  `{"candidates":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractGeminiUsage([]byte(tt.doc))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractGeminiUsage() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestExtractOpenAIUsage(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		expected Usage
		ok       bool
	}{
		{
			name:     "standard chat usage",
			doc:      `{"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`,
			expected: Usage{Input: 12, Output: 8, Total: 20},
			ok:       true,
		},
		{
			name: "reasoning detail",
			doc: `{"usage":{"prompt_tokens":5,"completion_tokens":9,"total_tokens":14,
				"completion_tokens_details":{"reasoning_tokens":3}}}`,
			expected: Usage{Input: 5, Output: 9, Total: 14, Reasoning: 3},
			ok:       true,
		},
		{
			name:     "responses api field names",
			doc:      `{"usage":{"input_tokens":6,"output_tokens":4}}`,
			expected: Usage{Input: 6, Output: 4, Total: 10},
			ok:       true,
		},
		{
			name: "missing usage",
			doc:  `{"choices":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractOpenAIUsage([]byte(tt.doc))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractOpenAIUsage() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}
