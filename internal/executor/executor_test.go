// Package executor_test provides tests for the executor package
package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloud-shuttle/roundup/internal/executor"
)

// createMockAgentScript writes a shell script standing in for the agent CLI
func createMockAgentScript(t *testing.T, body string) string {
	t.Helper()
	scriptPath := filepath.Join(t.TempDir(), "mock-agent.sh")
	script := "#!/bin/bash\n" + body
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to create mock agent script: %v", err)
	}
	return scriptPath
}

func TestCLIRunner_Run_Success(t *testing.T) {
	mock := createMockAgentScript(t, `echo '{"result": "done", "total_cost_usd": 0.42}'
exit 0
`)
	runner := executor.NewCLIRunner(mock)

	res, err := runner.Run(context.Background(), executor.Request{
		Prompt:  "do the thing",
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit 0, got %d", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("Expected no timeout")
	}
	if !strings.Contains(res.Stdout, "total_cost_usd") {
		t.Errorf("Expected JSON output captured, got %q", res.Stdout)
	}
}

func TestCLIRunner_Run_NonZeroExit(t *testing.T) {
	mock := createMockAgentScript(t, `echo "something broke" >&2
exit 3
`)
	runner := executor.NewCLIRunner(mock)

	res, err := runner.Run(context.Background(), executor.Request{Prompt: "x", Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("Expected a Result for a non-zero exit, got error %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected exit 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "something broke") {
		t.Errorf("Expected stderr captured, got %q", res.Stderr)
	}
}

func TestCLIRunner_Run_Timeout(t *testing.T) {
	mock := createMockAgentScript(t, `sleep 10
exit 0
`)
	runner := executor.NewCLIRunner(mock)

	start := time.Now()
	res, err := runner.Run(context.Background(), executor.Request{
		Prompt:  "x",
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Expected a Result for a timeout, got error %v", err)
	}
	if !res.TimedOut {
		t.Error("Expected TimedOut set")
	}
	if res.ExitCode != executor.TimeoutExitCode {
		t.Errorf("Expected exit code %d, got %d", executor.TimeoutExitCode, res.ExitCode)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Timeout took far longer than the deadline")
	}
}

func TestCLIRunner_Run_SessionIDPassed(t *testing.T) {
	mock := createMockAgentScript(t, `echo "$@"
exit 0
`)
	runner := executor.NewCLIRunner(mock)

	res, err := runner.Run(context.Background(), executor.Request{
		Prompt:    "x",
		SessionID: "sess-abc",
		Timeout:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(res.Stdout, "--session-id sess-abc") {
		t.Errorf("Expected session flag in args, got %q", res.Stdout)
	}
}

func TestCLIRunner_Run_MissingBinary(t *testing.T) {
	runner := executor.NewCLIRunner(filepath.Join(t.TempDir(), "no-such-binary"))

	if _, err := runner.Run(context.Background(), executor.Request{Prompt: "x"}); err == nil {
		t.Fatal("Expected a real error when the process cannot start")
	}
}

func TestCLIRunner_CheckInstalled(t *testing.T) {
	mock := createMockAgentScript(t, `echo "1.0.0"
exit 0
`)
	if err := executor.NewCLIRunner(mock).CheckInstalled(); err != nil {
		t.Errorf("Expected installed check to pass: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing")
	err := executor.NewCLIRunner(missing).CheckInstalled()
	if err == nil {
		t.Fatal("Expected installed check to fail")
	}
	var nie *executor.NotInstalledError
	if !errors.As(err, &nie) {
		t.Errorf("Expected NotInstalledError, got %T", err)
	}
}
