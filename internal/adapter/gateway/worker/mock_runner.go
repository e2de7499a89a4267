package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// MockRunner simulates worker runs without spawning processes. Used for
// dry runs and tests.
type MockRunner struct {
	Delay time.Duration // simulated work time per run
	Fail  error         // returned from every run when set

	mu   sync.Mutex
	runs []string // execution ids in run order
}

// NewMockRunner creates a mock runner that succeeds instantly
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// Run records the call and returns the scripted outcome
func (m *MockRunner) Run(ctx context.Context, a *agent.Agent, e *execution.Execution, ws *output.WorkspaceInfo) error {
	m.mu.Lock()
	m.runs = append(m.runs, string(e.ID))
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Fail
}

// Runs returns the execution ids run so far
func (m *MockRunner) Runs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.runs))
	copy(out, m.runs)
	return out
}
