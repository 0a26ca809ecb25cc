package agentrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// writeFixtureScript drops a tiny shell script standing in for the claude
// binary: it just echoes a canned stream-json transcript to stdout and
// exits, exercising the Runner's real process-spawn/pipe/reap path without
// needing an external dependency.
func writeFixtureScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testE2ELogger(t *testing.T) *logger.Logger {
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestSpawn_HappyPathReportsRunningThenCompleted(t *testing.T) {
	script := writeFixtureScript(t, `
cat <<'EOF'
{"type":"system","subtype":"init"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working"}],"usage":{"input_tokens":10,"output_tokens":20}}}
{"type":"result","subtype":"success","result":"all done","cost_usd":0.03}
EOF
`)

	cb := &fakeCallbacks{}
	r := New(Config{BinaryPath: script, ProjectDir: "."}, testE2ELogger(t), cb)

	require.NoError(t, r.Spawn(context.Background(), domain.SpawnConfig{SessionID: "s1", AgentName: "writer", Model: "sonnet", Prompt: "go"}))

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.finished) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, []string{"s1"}, cb.running)
	assert.Equal(t, domain.SessionCompleted, cb.finished[0])
	require.Len(t, cb.costCalls, 1)
	assert.InDelta(t, 0.03, cb.costCalls[0], 0.0001)
	assert.Equal(t, 1, cb.usageCalls)
}

func TestSpawn_RateLimitedScenarioReportsErrorAndRateLimit(t *testing.T) {
	script := writeFixtureScript(t, `
cat <<'EOF'
{"type":"system","subtype":"init"}
{"type":"result","subtype":"error","result":"Error: rate_limit_error; reset at 2025-01-02T03:04:05Z"}
EOF
`)

	cb := &fakeCallbacks{}
	r := New(Config{BinaryPath: script, ProjectDir: "."}, testE2ELogger(t), cb)

	require.NoError(t, r.Spawn(context.Background(), domain.SpawnConfig{SessionID: "s1", AgentName: "writer", Model: "sonnet", Prompt: "go"}))

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.finished) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, domain.SessionError, cb.finished[0])
	require.Len(t, cb.rateLimited, 1)
	assert.Contains(t, cb.rateLimited[0], "rate_limit_error")
}

func TestSpawn_SecretLeakIsRedactedBeforeCallback(t *testing.T) {
	script := writeFixtureScript(t, `
cat <<'EOF'
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"key: sk-ant-`+`EXAMPLEKEY0123456789ABCDEF"}]}}
{"type":"result","subtype":"success","result":"done","cost_usd":0.01}
EOF
`)

	cb := &fakeCallbacks{}
	r := New(Config{BinaryPath: script, ProjectDir: "."}, testE2ELogger(t), cb)

	require.NoError(t, r.Spawn(context.Background(), domain.SpawnConfig{SessionID: "s1", AgentName: "writer", Model: "sonnet", Prompt: "go"}))

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.finished) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.Len(t, cb.messages, 2)
	assert.NotContains(t, cb.messageBody[0], "sk-ant-")
	assert.Contains(t, cb.messageBody[0], "[REDACTED]")
}

func TestKill_EscalatesFromSIGTERM(t *testing.T) {
	script := writeFixtureScript(t, `
trap 'exit 0' TERM
sleep 30
`)

	cb := &fakeCallbacks{}
	r := New(Config{BinaryPath: script, ProjectDir: "."}, testE2ELogger(t), cb)

	require.NoError(t, r.Spawn(context.Background(), domain.SpawnConfig{SessionID: "s1", AgentName: "writer", Model: "sonnet", Prompt: "go"}))

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.running) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Kill(context.Background(), "s1"))

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, stillTracked := r.sessions["s1"]
		return !stillTracked
	}, 2*time.Second, 10*time.Millisecond)
}
