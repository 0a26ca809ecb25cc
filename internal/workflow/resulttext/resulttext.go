// Package resulttext extracts the "final answer" text from a session's log
// entries, for use as context propagated to downstream workflow steps.
package resulttext

import (
	"encoding/json"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type assistantContent struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type resultContent struct {
	Result json.RawMessage `json:"result"`
}

// Extract scans entries (already in ascending id / arrival order) in
// reverse for a final answer, per SPEC_FULL.md §4.6, and truncates it to
// the 50 KiB boundary.
func Extract(entries []domain.LogEntry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.MessageType != domain.MessageResult {
			continue
		}
		var rc resultContent
		if err := json.Unmarshal([]byte(e.Content), &rc); err != nil {
			continue
		}
		var s string
		if err := json.Unmarshal(rc.Result, &s); err == nil {
			return domain.TruncateResult(s)
		}
		// result field present but not a bare string: fall through to scan
		// further back, per the reverse-scan contract ("the first entry
		// with type result" that actually carries a string result field).
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.MessageType != domain.MessageAssistant {
			continue
		}
		var ac assistantContent
		if err := json.Unmarshal([]byte(e.Content), &ac); err != nil {
			continue
		}
		var texts []string
		for _, block := range ac.Message.Content {
			if block.Type == "text" {
				texts = append(texts, block.Text)
			}
		}
		if len(texts) > 0 {
			joined := texts[0]
			for _, t := range texts[1:] {
				joined += "\n" + t
			}
			if joined != "" {
				return domain.TruncateResult(joined)
			}
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Content != "" {
			return domain.TruncateResult(e.Content)
		}
	}

	return ""
}
