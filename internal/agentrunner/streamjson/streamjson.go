// Package streamjson parses the newline-delimited JSON protocol emitted by
// the claude CLI in --output-format stream-json mode.
package streamjson

import "encoding/json"

// Envelope is the minimal shape every stream-json line carries: enough to
// dispatch on Type and, for assistant/result lines, reach the fields the
// supervisor cares about (usage, cost, result text). Fields outside this
// envelope are ignored — the supervisor does not interpret agent output
// beyond what SPEC_FULL.md §4.2/§4.6 name.
type Envelope struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Message *MessageBody    `json:"message"`
	Result  json.RawMessage `json:"result"`
	CostUSD *float64        `json:"cost_usd"`
}

// MessageBody is the inner "message" object of assistant/user lines.
type MessageBody struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
	Usage   *Usage         `json:"usage"`
}

// ContentBlock is one element of a message's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage is the token accounting object nested under message.usage.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Parse attempts to decode one stream-json line. A parse failure returns
// ok=false; callers must discard the line silently per SPEC_FULL.md §4.2 —
// non-JSON lines are benign (stderr leaking into stdout, progress chatter).
func Parse(line string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Envelope{}, false
	}
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

// ResultString returns the string value of the envelope's "result" field,
// if it decodes as a JSON string. It returns ok=false for any other shape
// (object, number, absent) — result-text extraction (§4.6) only recognizes
// a bare string field.
func (e Envelope) ResultString() (string, bool) {
	if len(e.Result) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Result, &s); err != nil {
		return "", false
	}
	return s, true
}
