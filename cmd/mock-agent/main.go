// Command mock-agent stands in for the real claude CLI in integration
// tests: it accepts the same argv shape the Agent Runner spawns and
// emits a small, deterministic stream-json transcript to stdout so the
// supervisor can be exercised without the real binary.
//
// Flags understood: --print --output-format stream-json --verbose
// --agent NAME --session-id ID --model MODEL [--resume ID] PROMPT.
// The prompt, if it contains the substring "rate-limit", "error", or
// "secret", selects a canned scenario; otherwise the happy-path
// transcript is emitted.
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	prompt := ""
	if len(os.Args) > 0 {
		prompt = os.Args[len(os.Args)-1]
	}

	switch {
	case strings.Contains(prompt, "rate-limit"):
		emitRateLimited()
	case strings.Contains(prompt, "secret"):
		emitSecretLeak()
	case strings.Contains(prompt, "error"):
		emitError()
	default:
		emitHappyPath()
	}
}

func emitLine(line string) {
	fmt.Println(line)
}

func emitHappyPath() {
	emitLine(`{"type":"system","subtype":"init"}`)
	emitLine(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working on it"}],"usage":{"input_tokens":10,"output_tokens":20}}}`)
	emitLine(`{"type":"result","subtype":"success","result":"ok","cost_usd":0.03}`)
}

func emitRateLimited() {
	emitLine(`{"type":"system","subtype":"init"}`)
	emitLine(`{"type":"result","subtype":"error","result":"Error: rate_limit_error; reset at 2025-01-02T03:04:05Z"}`)
}

func emitSecretLeak() {
	emitLine(`{"type":"system","subtype":"init"}`)
	emitLine(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"key: sk-ant-` + `EXAMPLEKEY0123456789ABCDEF"}]}}`)
	emitLine(`{"type":"result","subtype":"success","result":"done","cost_usd":0.01}`)
}

func emitError() {
	emitLine(`{"type":"system","subtype":"init"}`)
	emitLine(`{"type":"result","subtype":"error","result":"Error: something went wrong"}`)
}
