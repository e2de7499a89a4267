package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

func shellOrSkip(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based tests are posix only")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func runFixture(t *testing.T) (*agent.Agent, *execution.Execution, *output.WorkspaceInfo) {
	t.Helper()
	e, err := execution.New("tmpl", "w-001", []execution.PhaseRecord{
		{Name: "implement", Class: execution.ClassImplement, Status: execution.PhasePending},
	}, nil)
	require.NoError(t, err)
	ws := &output.WorkspaceInfo{Path: t.TempDir(), Branch: "weave/w-001"}
	a, err := agent.New(e.ID, ws.Path)
	require.NoError(t, err)
	return a, e, ws
}

func TestCommandRunnerSucceeds(t *testing.T) {
	shellOrSkip(t)
	a, e, ws := runFixture(t)

	r := NewCommandRunner("true", time.Minute)
	assert.NoError(t, r.Run(context.Background(), a, e, ws))
}

func TestCommandRunnerReportsExit(t *testing.T) {
	shellOrSkip(t)
	a, e, ws := runFixture(t)

	r := NewCommandRunner("false", time.Minute)
	err := r.Run(context.Background(), a, e, ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker exited")
}

func TestCommandRunnerTimesOut(t *testing.T) {
	shellOrSkip(t)
	a, e, ws := runFixture(t)

	script := filepath.Join(t.TempDir(), "slow-worker")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o755))

	r := NewCommandRunner(script, 50*time.Millisecond)
	err := r.Run(context.Background(), a, e, ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCommandVerificationHook(t *testing.T) {
	shellOrSkip(t)

	hook := NewCommandVerificationHook(map[string]string{
		"build-and-test": "test -d .",
		"always-fails":   "echo boom >&2; exit 3",
	}, time.Minute)

	ctx := context.Background()
	assert.NoError(t, hook.Verify(ctx, "build-and-test", t.TempDir()))

	err := hook.Verify(ctx, "always-fails", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	err = hook.Verify(ctx, "not-declared", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown verification hook")
}

func TestMockRunnerRecordsRuns(t *testing.T) {
	a, e, ws := runFixture(t)

	m := NewMockRunner()
	require.NoError(t, m.Run(context.Background(), a, e, ws))
	assert.Equal(t, []string{string(e.ID)}, m.Runs())
}
