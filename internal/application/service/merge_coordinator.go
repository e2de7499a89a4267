package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// MergeCoordinator serializes the return of completed worker output into the
// shared baseline. Merges against one target apply strictly one at a time;
// conflicted requests are parked and re-checked after the baseline changes.
type MergeCoordinator struct {
	repo   repository.MergeRepository
	vcs    output.VCSGateway
	events output.EventSink

	mu      sync.Mutex
	targets map[string]*sync.Mutex // one mutex per target baseline
}

// NewMergeCoordinator creates a merge coordinator
func NewMergeCoordinator(repo repository.MergeRepository, vcs output.VCSGateway, events output.EventSink) *MergeCoordinator {
	if events == nil {
		events = output.NopSink{}
	}
	return &MergeCoordinator{
		repo:    repo,
		vcs:     vcs,
		events:  events,
		targets: make(map[string]*sync.Mutex),
	}
}

// Enqueue adds a completed execution's branch to the merge queue.
// Queue order is FIFO by enqueue time.
func (c *MergeCoordinator) Enqueue(ctx context.Context, executionID execution.ExecutionID, sourceBranch, targetBaseline string) (*merge.Request, error) {
	req, err := merge.NewRequest(executionID, sourceBranch, targetBaseline)
	if err != nil {
		return nil, err
	}
	pos, err := c.repo.NextPosition(ctx, targetBaseline)
	if err != nil {
		return nil, fmt.Errorf("next queue position: %w", err)
	}
	req.Position = pos
	if err := c.repo.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("save merge request: %w", err)
	}
	return req, nil
}

// CheckConflicts dry-runs the merge against the current target baseline and
// records the result. Nothing is mutated in the repository under check.
func (c *MergeCoordinator) CheckConflicts(ctx context.Context, requestID string) (*merge.Request, error) {
	req, err := c.repo.Find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := req.BeginCheck(); err != nil {
		return nil, err
	}

	conflicts, err := c.vcs.DryRunMerge(ctx, req.SourceBranch, req.TargetBaseline)
	if err != nil {
		return nil, fmt.Errorf("dry-run merge: %w", err)
	}

	if len(conflicts) == 0 {
		if err := req.MarkReady(); err != nil {
			return nil, err
		}
		c.events.Emit(output.Event{
			Type:        output.EventMergeReady,
			ExecutionID: req.ExecutionID.String(),
			At:          time.Now().UTC(),
			Summary:     fmt.Sprintf("merge %s is ready for %s", req.ID, req.TargetBaseline),
		})
	} else {
		if err := req.Park(conflicts); err != nil {
			return nil, err
		}
		c.events.Emit(output.Event{
			Type:        output.EventMergeConflicted,
			ExecutionID: req.ExecutionID.String(),
			At:          time.Now().UTC(),
			Summary:     fmt.Sprintf("merge %s parked on %d conflicting paths", req.ID, len(conflicts)),
			Details:     map[string]interface{}{"paths": conflicts},
		})
	}

	if err := c.repo.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("save merge request: %w", err)
	}
	return req, nil
}

// ExecuteMerge applies a ready request. It serializes on the per-target
// mutex so each merge sees the result of the previous one, re-verifies
// cleanliness under the lock, then merges and releases.
func (c *MergeCoordinator) ExecuteMerge(ctx context.Context, requestID string) (*merge.Request, error) {
	req, err := c.repo.Find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != merge.StatusReady {
		return nil, errs.Newf(errs.KindConflict, "MERGE_NOT_READY", "merge %s is %s; run a conflict check first", req.ID, req.Status)
	}

	lock := c.targetMutex(req.TargetBaseline)
	lock.Lock()
	defer lock.Unlock()

	// The baseline may have moved while we waited for the lock.
	conflicts, err := c.vcs.DryRunMerge(ctx, req.SourceBranch, req.TargetBaseline)
	if err != nil {
		return nil, fmt.Errorf("dry-run merge: %w", err)
	}
	if len(conflicts) > 0 {
		if err := req.BeginCheck(); err != nil {
			return nil, err
		}
		if err := req.Park(conflicts); err != nil {
			return nil, err
		}
		if err := c.repo.Save(ctx, req); err != nil {
			return nil, err
		}
		return nil, errs.Newf(errs.KindMergeConflict, "MERGE_CONFLICTED", "merge %s conflicts on %d paths", req.ID, len(conflicts)).
			WithDetails(map[string]interface{}{"paths": conflicts})
	}

	if err := req.BeginMerge(); err != nil {
		return nil, err
	}
	if err := c.repo.Save(ctx, req); err != nil {
		return nil, err
	}

	if err := c.vcs.Merge(ctx, req.SourceBranch, req.TargetBaseline); err != nil {
		// Return the request to the queue rather than losing it.
		req.Status = merge.StatusQueued
		_ = c.repo.Save(ctx, req)
		return nil, fmt.Errorf("merge %s into %s: %w", req.SourceBranch, req.TargetBaseline, err)
	}

	if err := req.MarkMerged(); err != nil {
		return nil, err
	}
	if err := c.repo.Save(ctx, req); err != nil {
		return nil, err
	}

	// The baseline just moved; parked requests may merge cleanly now.
	// The merge itself already landed, so a recheck failure is not the
	// caller's error; parked requests stay parked until the next recheck.
	_ = c.RecheckParked(ctx, req.TargetBaseline)
	return req, nil
}

// RecheckParked re-runs conflict checks for parked requests against a
// target. Called after the baseline changes (a merge landed).
func (c *MergeCoordinator) RecheckParked(ctx context.Context, targetBaseline string) error {
	pending, err := c.repo.ListPendingByTarget(ctx, targetBaseline)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if req.Status != merge.StatusConflicted {
			continue
		}
		if _, err := c.CheckConflicts(ctx, req.ID); err != nil {
			return err
		}
	}
	return nil
}

// NextInQueue returns the head of the FIFO queue for a target, or nil
func (c *MergeCoordinator) NextInQueue(ctx context.Context, targetBaseline string) (*merge.Request, error) {
	pending, err := c.repo.ListPendingByTarget(ctx, targetBaseline)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

// CancelByExecution pulls an aborted execution's requests from the queue
func (c *MergeCoordinator) CancelByExecution(ctx context.Context, executionID execution.ExecutionID) error {
	all, err := c.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, req := range all {
		if req.ExecutionID != executionID || !req.IsPending() {
			continue
		}
		if err := req.Cancel(); err != nil {
			continue // already merging; leave it
		}
		if err := c.repo.Save(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (c *MergeCoordinator) targetMutex(targetBaseline string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.targets[targetBaseline]
	if !ok {
		lock = &sync.Mutex{}
		c.targets[targetBaseline] = lock
	}
	return lock
}
