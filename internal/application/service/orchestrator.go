package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/catalog"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/domain/repository"
	"github.com/hmiyata/weave/internal/domain/service/cascade"
)

// Orchestrator owns the dispatch loop. It ranks the backlog by leverage,
// starts executions up to the concurrency cap, and consumes every worker
// termination from one channel so all policy decisions happen on a single
// goroutine. Workers report; they never decide.
type Orchestrator struct {
	items    repository.WorkItemRepository
	execs    repository.ExecutionRepository
	manager  *AgentManager
	merges   *MergeCoordinator
	catalog  *catalog.Catalog
	policy   cascade.Policy
	events   output.EventSink
	infoLog  func(format string, args ...interface{})
	warnLog  func(format string, args ...interface{})

	// pollInterval bounds how long an empty backlog sleeps between scans.
	pollInterval time.Duration
}

// NewOrchestrator creates the dispatch loop service
func NewOrchestrator(
	items repository.WorkItemRepository,
	execs repository.ExecutionRepository,
	manager *AgentManager,
	merges *MergeCoordinator,
	cat *catalog.Catalog,
	policy cascade.Policy,
	events output.EventSink,
	infoLog func(format string, args ...interface{}),
	warnLog func(format string, args ...interface{}),
) *Orchestrator {
	if events == nil {
		events = output.NopSink{}
	}
	if infoLog == nil {
		infoLog = func(string, ...interface{}) {}
	}
	if warnLog == nil {
		warnLog = func(string, ...interface{}) {}
	}
	return &Orchestrator{
		items:        items,
		execs:        execs,
		manager:      manager,
		merges:       merges,
		catalog:      cat,
		policy:       policy,
		events:       events,
		infoLog:      infoLog,
		warnLog:      warnLog,
		pollInterval: 2 * time.Second,
	}
}

// NextBatch returns up to n dispatchable items in leverage order.
// An item is dispatchable when it is available and every dependency is done.
// Ties break on registration order so equal scores dispatch FIFO.
func (o *Orchestrator) NextBatch(ctx context.Context, n int) ([]*workitem.WorkItem, error) {
	all, err := o.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}

	done := make(map[string]bool)
	for _, w := range all {
		if w.Status == workitem.StatusDone {
			done[w.ID] = true
		}
	}

	var ready []*workitem.WorkItem
	for _, w := range all {
		if w.Status != workitem.StatusAvailable {
			continue
		}
		if !w.AreDependenciesMet(done) {
			continue
		}
		ready = append(ready, w)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		si, sj := ready[i].Score(), ready[j].Score()
		if si != sj {
			return si > sj
		}
		return ready[i].Sequence < ready[j].Sequence
	})

	if n > 0 && len(ready) > n {
		ready = ready[:n]
	}
	return ready, nil
}

// DetectCycles finds available items trapped in dependency cycles and
// quarantines them as blocked; they would otherwise sit in the backlog
// forever looking dispatchable-later. Returns the quarantined ids.
func (o *Orchestrator) DetectCycles(ctx context.Context) ([]string, error) {
	all, err := o.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}

	byID := make(map[string]*workitem.WorkItem, len(all))
	for _, w := range all {
		byID[w.ID] = w
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(all))
	inCycle := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		w, ok := byID[id]
		if !ok {
			return false // unknown dependency, not a cycle
		}
		switch state[id] {
		case visiting:
			return true
		case done:
			return inCycle[id]
		}
		state[id] = visiting
		for _, dep := range w.DependsOn {
			if visit(dep) {
				inCycle[id] = true
			}
		}
		state[id] = done
		return inCycle[id]
	}

	var quarantined []string
	for _, w := range all {
		visit(w.ID)
	}
	for _, w := range all {
		if !inCycle[w.ID] || w.Status != workitem.StatusAvailable {
			continue
		}
		w.MarkBlocked()
		if err := o.items.Save(ctx, w); err != nil {
			return quarantined, fmt.Errorf("save work item: %w", err)
		}
		quarantined = append(quarantined, w.ID)
		o.warnLog("quarantined %s: dependency cycle", w.ID)
	}
	return quarantined, nil
}

// Dispatch starts executions for the highest-leverage ready items until
// capacity runs out or the backlog is drained. Items whose resources are
// already reserved are skipped this round and stay available.
func (o *Orchestrator) Dispatch(ctx context.Context) (int, error) {
	if _, err := o.DetectCycles(ctx); err != nil {
		return 0, err
	}
	started := 0
	for o.manager.HasCapacity() {
		batch, err := o.NextBatch(ctx, 1)
		if err != nil {
			return started, err
		}
		if len(batch) == 0 {
			return started, nil
		}
		item := batch[0]

		if err := o.startItem(ctx, item); err != nil {
			o.warnLog("dispatch of %s deferred: %v", item.ID, err)
			// Leave the item available; a reservation conflict or a
			// workspace error clears on a later round.
			if item.Status == workitem.StatusDispatched {
				if reqErr := item.Requeue(); reqErr == nil {
					_ = o.items.Save(ctx, item)
				}
			}
			return started, nil
		}
		started++
	}
	return started, nil
}

func (o *Orchestrator) startItem(ctx context.Context, item *workitem.WorkItem) error {
	tmpl, ok := o.catalog.Templates[item.TemplateID]
	if !ok {
		return fmt.Errorf("work item %s names unknown template %s", item.ID, item.TemplateID)
	}

	phases, gates := tmpl.Instantiate()
	e, err := execution.New(tmpl.ID, item.ID, phases, gates)
	if err != nil {
		return err
	}
	if err := o.execs.Save(ctx, e); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}

	if err := item.MarkDispatched(); err != nil {
		return err
	}
	if err := o.items.Save(ctx, item); err != nil {
		return fmt.Errorf("save work item: %w", err)
	}

	if _, err := o.manager.Spawn(ctx, e, item); err != nil {
		return err
	}
	o.infoLog("dispatched %s (score %.2f) as %s", item.ID, item.Score(), e.ID)
	return nil
}

// HandleResult applies the failure cascade (or completion bookkeeping) to
// one worker termination. It runs on the dispatch goroutine only.
func (o *Orchestrator) HandleResult(ctx context.Context, r AgentResult) error {
	e, err := o.execs.Find(ctx, r.ExecutionID)
	if err != nil {
		return fmt.Errorf("find execution %s: %w", r.ExecutionID, err)
	}

	if r.Err == nil {
		return o.handleSuccess(ctx, r, e)
	}
	return o.handleFailure(ctx, r, e)
}

func (o *Orchestrator) handleSuccess(ctx context.Context, r AgentResult, e *execution.Execution) error {
	if err := o.manager.Finalize(ctx, r.Agent, agent.StatusCompleted); err != nil {
		o.warnLog("finalize %s: %v", r.Agent.ID, err)
	}

	item, err := o.items.Find(ctx, r.WorkItemID)
	if err != nil {
		return fmt.Errorf("find work item %s: %w", r.WorkItemID, err)
	}
	if err := item.MarkDone(); err != nil {
		return err
	}
	if err := o.items.Save(ctx, item); err != nil {
		return fmt.Errorf("save work item: %w", err)
	}

	req, err := o.merges.Enqueue(ctx, e.ID, r.Branch, o.manager.config.Baseline)
	if err != nil {
		return fmt.Errorf("enqueue merge for %s: %w", e.ID, err)
	}

	o.events.Emit(output.Event{
		Type:        output.EventExecutionCompleted,
		ExecutionID: e.ID.String(),
		At:          time.Now().UTC(),
		Summary:     fmt.Sprintf("%s completed by %s", item.ID, r.Agent.ID),
		Details:     map[string]interface{}{"branch": r.Branch, "merge_request": req.ID},
	})
	o.infoLog("%s completed by %s, merge %s queued for %s", e.ID, r.Agent.ID, req.ID, req.TargetBaseline)
	return nil
}

func (o *Orchestrator) handleFailure(ctx context.Context, r AgentResult, e *execution.Execution) error {
	kind := cascade.Classify(r.Err)
	if err := e.Fail(kind, r.Err.Error(), r.Agent.ID); err != nil {
		return err
	}

	o.events.Emit(output.Event{
		Type:        output.EventAgentFailed,
		ExecutionID: e.ID.String(),
		At:          time.Now().UTC(),
		Summary:     fmt.Sprintf("%s failed on %s: %v", r.Agent.ID, e.ID, r.Err),
		Details:     map[string]interface{}{"kind": kind},
	})

	decision := o.policy.Decide(e)
	switch decision.Outcome {
	case cascade.OutcomeRetry:
		if err := e.Retry(decision.Budgeted); err != nil {
			return err
		}
		if err := o.execs.Save(ctx, e); err != nil {
			return fmt.Errorf("save execution: %w", err)
		}
		o.infoLog("retrying %s in place: %s", e.ID, decision.Reason)
		return o.manager.RetryInPlace(ctx, r.Agent, e, r.WorkItemID, decision.Backoff)

	case cascade.OutcomeReassign:
		if err := e.Retry(decision.Budgeted); err != nil {
			return err
		}
		if err := o.execs.Save(ctx, e); err != nil {
			return fmt.Errorf("save execution: %w", err)
		}
		item, err := o.items.Find(ctx, r.WorkItemID)
		if err != nil {
			return fmt.Errorf("find work item %s: %w", r.WorkItemID, err)
		}
		o.infoLog("reassigning %s: %s", e.ID, decision.Reason)
		if _, err := o.manager.Reassign(ctx, r.Agent, e, item); err != nil {
			o.warnLog("reassign of %s deferred: %v", item.ID, err)
			// Put the item back in the backlog; a later dispatch round
			// picks it up once the spawn obstacle clears.
			if item.Status == workitem.StatusDispatched {
				if reqErr := item.Requeue(); reqErr == nil {
					_ = o.items.Save(ctx, item)
				}
			}
			return err
		}
		return nil

	case cascade.OutcomeEscalate:
		summary := cascade.EscalationSummary(e, decision.Reason)
		if err := e.Block(summary); err != nil {
			return err
		}
		if err := o.execs.Save(ctx, e); err != nil {
			return fmt.Errorf("save execution: %w", err)
		}
		if err := o.manager.Finalize(ctx, r.Agent, agent.StatusFailed); err != nil {
			o.warnLog("finalize %s: %v", r.Agent.ID, err)
		}
		item, err := o.items.Find(ctx, r.WorkItemID)
		if err == nil {
			item.MarkBlocked()
			_ = o.items.Save(ctx, item)
		}
		o.events.Emit(output.Event{
			Type:        output.EventExecutionBlocked,
			ExecutionID: e.ID.String(),
			At:          time.Now().UTC(),
			Summary:     summary,
		})
		o.warnLog("escalated %s: %s", e.ID, decision.Reason)
		return nil
	}
	return fmt.Errorf("unknown cascade outcome %q", decision.Outcome)
}

// Run drives the dispatch loop until the context is cancelled or, when
// drain is set, until the backlog is empty and every agent has reported.
func (o *Orchestrator) Run(ctx context.Context, drain bool) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := o.Dispatch(ctx); err != nil {
			return err
		}

		if drain && o.manager.ActiveCount() == 0 {
			batch, err := o.NextBatch(ctx, 1)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-o.manager.Results():
			if err := o.HandleResult(ctx, r); err != nil {
				o.warnLog("handle result for %s: %v", r.ExecutionID, err)
			}
		case <-ticker.C:
		}
	}
}
