package resulttext

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kdlbs/agentsupervisor/internal/domain"
)

func entry(msgType domain.MessageType, content string) domain.LogEntry {
	return domain.LogEntry{MessageType: msgType, Content: content}
}

func TestExtract_PrefersLastResultString(t *testing.T) {
	entries := []domain.LogEntry{
		entry(domain.MessageSystem, `{"type":"system","subtype":"init"}`),
		entry(domain.MessageAssistant, `{"message":{"content":[{"type":"text","text":"working"}]}}`),
		entry(domain.MessageResult, `{"result":"first result"}`),
		entry(domain.MessageResult, `{"result":"final result"}`),
	}
	assert.Equal(t, "final result", Extract(entries))
}

func TestExtract_SkipsResultWithNonStringResultField(t *testing.T) {
	entries := []domain.LogEntry{
		entry(domain.MessageResult, `{"result":"usable answer"}`),
		entry(domain.MessageResult, `{"result":{"nested":"object"}}`),
	}
	assert.Equal(t, "usable answer", Extract(entries))
}

func TestExtract_FallsBackToLastAssistantText(t *testing.T) {
	entries := []domain.LogEntry{
		entry(domain.MessageSystem, `{"type":"system"}`),
		entry(domain.MessageAssistant, `{"message":{"content":[{"type":"text","text":"first"}]}}`),
		entry(domain.MessageAssistant, `{"message":{"content":[{"type":"text","text":"second"},{"type":"text","text":"third"}]}}`),
	}
	assert.Equal(t, "second\nthird", Extract(entries))
}

func TestExtract_FallsBackToLastNonEmptyRawContent(t *testing.T) {
	entries := []domain.LogEntry{
		entry(domain.MessageStderr, "warning: something minor"),
		entry(domain.MessageStderr, ""),
	}
	assert.Equal(t, "warning: something minor", Extract(entries))
}

func TestExtract_EmptyWhenNoEntries(t *testing.T) {
	assert.Equal(t, "", Extract(nil))
}

func TestExtract_TruncatesAtBoundary(t *testing.T) {
	long := strings.Repeat("a", domain.MaxResultOutputBytes+1)
	entries := []domain.LogEntry{
		entry(domain.MessageResult, fmt.Sprintf(`{"result":%q}`, long)),
	}
	got := Extract(entries)
	assert.True(t, strings.HasSuffix(got, domain.TruncationSuffix))
	assert.Equal(t, domain.MaxResultOutputBytes+len(domain.TruncationSuffix), len(got))
}

func TestExtract_ExactBoundaryNotTruncated(t *testing.T) {
	exact := strings.Repeat("b", domain.MaxResultOutputBytes)
	entries := []domain.LogEntry{
		entry(domain.MessageResult, fmt.Sprintf(`{"result":%q}`, exact)),
	}
	got := Extract(entries)
	assert.Equal(t, exact, got)
	assert.False(t, strings.HasSuffix(got, domain.TruncationSuffix))
}
