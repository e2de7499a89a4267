package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/hmiyata/weave/internal/application/port/output"
)

// fakeVCS is an in-memory stand-in for the version-control gateway.
// Conflict results and baseline refs are scripted per branch/baseline.
type fakeVCS struct {
	mu           sync.Mutex
	workspaces   map[string]*output.WorkspaceInfo // branch -> workspace
	conflicts    map[string][]string              // branch -> conflicting paths
	refs         map[string]int                   // baseline -> ref counter
	merged       []string                         // branches merged, in order
	mergeBarrier func()                           // runs inside Merge while holding no fake lock
	createErr    error
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		workspaces: make(map[string]*output.WorkspaceInfo),
		conflicts:  make(map[string][]string),
		refs:       make(map[string]int),
	}
}

func (f *fakeVCS) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *fakeVCS) setConflicts(branch string, paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[branch] = paths
}

func (f *fakeVCS) mergedBranches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.merged))
	copy(out, f.merged)
	return out
}

func (f *fakeVCS) workspaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workspaces)
}

func (f *fakeVCS) CreateWorkspace(_ context.Context, baseline, branch string) (*output.WorkspaceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	ws := &output.WorkspaceInfo{Path: "/tmp/ws/" + branch, Branch: branch}
	f.workspaces[branch] = ws
	return ws, nil
}

func (f *fakeVCS) RemoveWorkspace(_ context.Context, ws *output.WorkspaceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workspaces, ws.Branch)
	return nil
}

func (f *fakeVCS) ChangedPaths(_ context.Context, branch, _ string) ([]string, error) {
	return []string{"internal/" + branch + ".go"}, nil
}

func (f *fakeVCS) DryRunMerge(_ context.Context, branch, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conflicts[branch], nil
}

func (f *fakeVCS) Merge(_ context.Context, branch, baseline string) error {
	if f.mergeBarrier != nil {
		f.mergeBarrier()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, branch)
	f.refs[baseline]++
	return nil
}

func (f *fakeVCS) BaselineRef(_ context.Context, baseline string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("%s@%d", baseline, f.refs[baseline]), nil
}

// collectSink records every emitted event
type collectSink struct {
	mu     sync.Mutex
	events []output.Event
}

func (s *collectSink) Emit(e output.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *collectSink) byType(t output.EventType) []output.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []output.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
