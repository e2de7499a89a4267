// Package worker launches and supervises the external worker processes
// that carry executions forward. The application core only sees the
// AgentRunner and VerificationHook interfaces; everything process-related
// lives here.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// CommandRunner runs one worker process per execution attempt. The worker
// binary receives its assignment through WEAVE_* environment variables and
// runs with the workspace as its working directory.
type CommandRunner struct {
	Bin     string
	Timeout time.Duration
}

// NewCommandRunner creates a runner for the given worker binary
func NewCommandRunner(bin string, timeout time.Duration) *CommandRunner {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &CommandRunner{Bin: bin, Timeout: timeout}
}

// Run executes the worker and blocks until it exits. A non-zero exit is
// returned as an error carrying the tail of the combined output.
func (r *CommandRunner) Run(ctx context.Context, a *agent.Agent, e *execution.Execution, ws *output.WorkspaceInfo) error {
	if r.Bin == "" {
		return fmt.Errorf("worker binary is not configured")
	}

	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, r.Bin)
	cmd.Dir = ws.Path
	cmd.Env = append(os.Environ(),
		"WEAVE_EXECUTION_ID="+string(e.ID),
		"WEAVE_AGENT_ID="+a.ID,
		"WEAVE_WORKSPACE="+ws.Path,
		"WEAVE_BRANCH="+ws.Branch,
	)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("worker timed out after %s", r.Timeout)
	}
	if err != nil {
		return fmt.Errorf("worker exited: %w: %s", err, outputTail(combined.String()))
	}
	return nil
}

// outputTail keeps error messages readable when workers are chatty
func outputTail(s string) string {
	const maxLines = 10
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
