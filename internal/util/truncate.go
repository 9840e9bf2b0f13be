package util

import "fmt"

// DefaultLogMaxLen caps upstream payload excerpts in log lines; full
// bodies are available in the error dump directory.
const DefaultLogMaxLen = 1024

// TruncateLog shortens long strings for log output.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes truncates a byte payload with the default cap.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
