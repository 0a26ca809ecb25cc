// Package agentrunner spawns and supervises the claude CLI as a child
// process, parsing its stream-json stdout into domain callbacks.
package agentrunner

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kdlbs/agentsupervisor/internal/agentrunner/redact"
	"github.com/kdlbs/agentsupervisor/internal/agentrunner/streamjson"
	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// allowedEnvVars is the fixed set of environment variables that survive
// into the child process. Nothing else leaks through.
var allowedEnvVars = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL", "TMPDIR",
	"LANG", "LC_ALL", "XDG_CONFIG_HOME", "XDG_DATA_HOME", "TERM",
	"ANTHROPIC_API_KEY", "CLAUDE_CODE_API_KEY",
}

var tracer = otel.Tracer("agentsupervisor/agentrunner")

// Config configures the Runner's view of the claude binary.
type Config struct {
	BinaryPath string
	ProjectDir string
}

type session struct {
	cancel context.CancelFunc
	span   trace.Span
}

var _ domain.AgentRunner = (*Runner)(nil)

// Runner implements domain.AgentRunner by spawning the claude CLI.
type Runner struct {
	cfg       Config
	log       *logger.Logger
	callbacks domain.SessionCallbacks

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs a Runner. callbacks is the narrow interface the reader
// task reports into; it is typically a Session Manager (see
// SPEC_FULL.md §4.1's Construction note on the two-phase wiring this
// resolves).
func New(cfg Config, log *logger.Logger, callbacks domain.SessionCallbacks) *Runner {
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}
	return &Runner{
		cfg:       cfg,
		log:       log.WithFields(zap.String("component", "agentrunner")),
		callbacks: callbacks,
		sessions:  make(map[string]*session),
	}
}

func childEnv() []string {
	env := make([]string, 0, len(allowedEnvVars))
	for _, key := range allowedEnvVars {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// Spawn starts a new claude process for cfg.SessionID.
func (r *Runner) Spawn(ctx context.Context, cfg domain.SpawnConfig) error {
	args := []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--agent", cfg.AgentName,
		"--session-id", cfg.SessionID,
		"--model", cfg.Model,
		cfg.Prompt,
	}
	return r.spawn(ctx, cfg.SessionID, args, cfg.ProjectDir)
}

// Resume restarts claude against an existing session id.
func (r *Runner) Resume(ctx context.Context, cfg domain.ResumeConfig) error {
	args := []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--resume", cfg.SessionID,
		cfg.Prompt,
	}
	return r.spawn(ctx, cfg.SessionID, args, cfg.ProjectDir)
}

// spawn ignores the caller's context deliberately: an agent session must
// outlive the request that started it, and is torn down only by Kill or
// KillAll, never by request cancellation.
func (r *Runner) spawn(_ context.Context, sessionID string, args []string, projectDir string) error {
	if projectDir == "" {
		projectDir = r.cfg.ProjectDir
	}

	ctx, span := tracer.Start(context.Background(), "agent.session",
		trace.WithAttributes(attribute.String("session.id", sessionID)))

	cmd := exec.Command(r.cfg.BinaryPath, args...)
	cmd.Dir = projectDir
	cmd.Env = childEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
		Setpgid:   true,
	}
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		span.End()
		return apperr.Process("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		span.End()
		return apperr.Process("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		span.End()
		return apperr.Process("failed to start agent process", err)
	}

	r.log.Info("agent process started",
		zap.String("session_id", sessionID),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("project_dir", projectDir))

	taskCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.sessions[sessionID] = &session{cancel: cancel, span: span}
	r.mu.Unlock()

	go r.readTask(taskCtx, cancel, cmd, sessionID, stdout, stderr, span)

	return nil
}

func (r *Runner) readTask(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, sessionID string, stdout, stderr io.ReadCloser, span trace.Span) {
	defer cancel()
	defer r.forget(sessionID)
	defer span.End()

	r.callbacks.OnAgentRunning(sessionID)

	finalStatus := domain.SessionCompleted

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				// Signal the whole process group (Setpgid above) so that
				// grandchildren holding the output pipes exit too.
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
				select {
				case <-stopped:
				case <-time.After(5 * time.Second):
					_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				}
			}
		case <-stopped:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if status, ok := r.handleLine(sessionID, line, span); ok {
			finalStatus = status
		}
	}

	errScanner := bufio.NewScanner(stderr)
	errScanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for errScanner.Scan() {
		line := errScanner.Text()
		if line == "" {
			continue
		}
		redacted := redact.Redact(line)
		r.callbacks.OnAgentMessage(sessionID, domain.MessageStderr, redacted, time.Now())
	}

	_ = cmd.Wait()
	close(stopped)

	select {
	case <-ctx.Done():
		// Killed: caller finalizes status themselves per kill semantics.
		return
	default:
	}

	r.log.Info("agent process exited",
		zap.String("session_id", sessionID),
		zap.String("final_status", string(finalStatus)))
	r.callbacks.OnAgentFinished(sessionID, finalStatus)
}

// handleLine redacts and processes one stdout line and returns a terminal
// status override when the line is an error result line.
func (r *Runner) handleLine(sessionID, rawLine string, span trace.Span) (domain.SessionStatus, bool) {
	redacted := redact.Redact(rawLine)

	env, ok := streamjson.Parse(redacted)
	if !ok {
		return "", false
	}

	var terminal domain.SessionStatus
	var hasTerminal bool

	switch env.Type {
	case "result":
		if env.Subtype == "error" {
			terminal = domain.SessionError
			hasTerminal = true
		}
		if text, ok := env.ResultString(); ok {
			if looksRateLimited(text) {
				span.AddEvent("rate_limited")
				var resetAt *time.Time
				if ts, found := extractResetAt(text); found {
					if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
						resetAt = &parsed
					}
				}
				r.callbacks.OnRateLimited(sessionID, resetAt, text)
			}
		}
		if env.CostUSD != nil && *env.CostUSD > 0 {
			span.AddEvent("cost", trace.WithAttributes(attribute.Float64("cost_usd", *env.CostUSD)))
			r.callbacks.OnAgentCost(sessionID, *env.CostUSD)
		}
	case "assistant":
		if env.Message != nil && env.Message.Usage != nil {
			in, out := env.Message.Usage.InputTokens, env.Message.Usage.OutputTokens
			if in > 0 || out > 0 {
				r.callbacks.OnAgentUsage(sessionID, in, out)
			}
		}
	}

	r.callbacks.OnAgentMessage(sessionID, domain.MessageType(env.Type), redacted, time.Now())

	return terminal, hasTerminal
}

func (r *Runner) forget(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Kill aborts the session's reader task, which tears down the child via
// closed pipes and signal escalation.
func (r *Runner) Kill(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return apperr.Process("session not tracked by runner: "+sessionID, nil)
	}
	s.cancel()
	return nil
}

// KillAll aborts every in-flight session, used during graceful shutdown.
func (r *Runner) KillAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
}
