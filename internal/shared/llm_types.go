package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// StageMeta holds operational metadata for a single pipeline stage call.
type StageMeta struct {
	StageName string
	Usage     TokenUsage
	Latency   time.Duration
}
