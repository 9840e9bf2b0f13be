package models

// UsageLog records token usage per completed request. Writes are
// fire-and-forget; a failed insert never affects the response.
type UsageLog struct {
	ID              uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp       int64  `gorm:"index" json:"timestamp"`
	RequestID       string `json:"request_id,omitempty"`
	UserID          string `gorm:"index" json:"user_id,omitempty"`
	Provider        string `gorm:"index" json:"provider"`
	AccountID       string `json:"account_id,omitempty"`
	Model           string `gorm:"index" json:"model"`
	Stream          bool   `json:"stream"`
	InputTokens     int    `json:"input_tokens"`
	OutputTokens    int    `json:"output_tokens"`
	TotalTokens     int    `json:"total_tokens"`
	ReasoningTokens int    `json:"reasoning_tokens,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
	Error           string `json:"error,omitempty"`
}

// UsageStats holds per-provider aggregates for the usage endpoint.
type UsageStats struct {
	Provider     string `json:"provider"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}
