// Package executor invokes the external long-running agent process. The
// process is a black box: it takes a prompt and produces text plus an exit
// status. Nothing here interprets output beyond capturing it.
package executor

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// TimeoutExitCode is reported when the executor is killed at its deadline,
// matching the conventional timeout(1) exit status.
const TimeoutExitCode = 124

// Request describes one executor invocation
type Request struct {
	Prompt    string
	Dir       string
	SessionID string
	Timeout   time.Duration
}

// Result is the captured outcome of one invocation. A timeout is a Result
// with ExitCode 124, never an error that escapes the caller's loop.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner runs prompts against the external executor
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// CLIRunner shells out to an agent CLI in print mode
type CLIRunner struct {
	binPath string
	verbose bool
}

// NewCLIRunner creates a runner for the given agent binary
func NewCLIRunner(binPath string) *CLIRunner {
	return &CLIRunner{binPath: binPath}
}

// SetVerbose enables or disables verbose logging
func (r *CLIRunner) SetVerbose(v bool) {
	r.verbose = v
}

// CheckInstalled verifies the executor binary is available
func (r *CLIRunner) CheckInstalled() error {
	cmd := exec.Command(r.binPath, "--version")
	if output, err := cmd.CombinedOutput(); err != nil {
		return &NotInstalledError{Path: r.binPath, Output: string(output), Err: err}
	}
	return nil
}

// NotInstalledError reports a missing or misconfigured executor binary
type NotInstalledError struct {
	Path   string
	Output string
	Err    error
}

func (e *NotInstalledError) Error() string {
	return "executor not found at " + e.Path + ": " + e.Err.Error()
}

func (e *NotInstalledError) Unwrap() error { return e.Err }

// Run executes the prompt under a deadline. The prompt travels as a direct
// argument, and the subprocess is forcibly terminated at the deadline; the
// outcome is always a Result.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := []string{"-p", req.Prompt, "--output-format", "json", "--dangerously-skip-permissions"}
	if req.SessionID != "" {
		args = append(args, "--session-id", req.SessionID)
	}

	cmd := exec.CommandContext(runCtx, r.binPath, args...)
	cmd.Dir = req.Dir

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		return result, nil
	}

	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitError.ExitCode()
			return result, nil
		}
		// The process never started; surface that as an error so the
		// caller can fail the work item with a real cause.
		return nil, err
	}

	return result, nil
}
