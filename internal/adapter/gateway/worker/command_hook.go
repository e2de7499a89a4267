package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// CommandVerificationHook implements catalog.VerificationHook by shelling
// out to the command each hook declares. Commands run in the workspace so
// relative paths resolve against the checkout being verified.
type CommandVerificationHook struct {
	commands map[string]string // hook id -> shell command
	timeout  time.Duration
}

// NewCommandVerificationHook creates a hook runner from the catalog's hook
// command mapping
func NewCommandVerificationHook(commands map[string]string, timeout time.Duration) *CommandVerificationHook {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CommandVerificationHook{commands: commands, timeout: timeout}
}

// Verify runs the named hook's command. An unknown hook name is an error;
// a template must not reference verification the catalog never declared.
func (h *CommandVerificationHook) Verify(ctx context.Context, hookName, workspacePath string) error {
	command, ok := h.commands[hookName]
	if !ok {
		return fmt.Errorf("unknown verification hook %q", hookName)
	}

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = workspacePath

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("verification %q timed out after %s", hookName, h.timeout)
	}
	if err != nil {
		return fmt.Errorf("verification %q failed: %w: %s", hookName, err, outputTail(combined.String()))
	}
	return nil
}
