package domain

import "time"

// StatusChangedEvent reports a session's status transition.
type StatusChangedEvent struct {
	SessionID string
	AgentName string
	Status    SessionStatus
	Model     string
	Prompt    string
	EndedAt   *time.Time
}

// MessageEvent reports one log line produced by an agent.
type MessageEvent struct {
	SessionID   string
	MessageType MessageType
	Content     string
	Timestamp   time.Time
}

// UsageUpdateEvent reports a session's new cumulative token/cost totals.
type UsageUpdateEvent struct {
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// RateLimitedEvent reports a detected quota/rate-limit condition.
type RateLimitedEvent struct {
	SessionID  string
	ResetAt    *time.Time
	RawMessage string
}
