// Package memory provides in-memory repository implementations for tests
// and ephemeral runs. Semantics mirror the SQLite implementations: the same
// not-found and conflict errors, the same ordering guarantees.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hmiyata/weave/internal/application/port/output"
	"github.com/hmiyata/weave/internal/domain/model/agent"
	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// ExecutionRepository stores executions in a map
type ExecutionRepository struct {
	mu    sync.RWMutex
	execs map[execution.ExecutionID]*execution.Execution
	order []execution.ExecutionID
}

// NewExecutionRepository creates an empty in-memory execution repository
func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{execs: make(map[execution.ExecutionID]*execution.Execution)}
}

func (r *ExecutionRepository) Save(ctx context.Context, e *execution.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.execs[e.ID]; !exists {
		r.order = append(r.order, e.ID)
	}
	r.execs[e.ID] = e
	return nil
}

func (r *ExecutionRepository) Find(ctx context.Context, id execution.ExecutionID) (*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.execs[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "EXEC_NOT_FOUND", "execution not found")
	}
	return e, nil
}

func (r *ExecutionRepository) FindByWorkItem(ctx context.Context, workItemID string) (*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *execution.Execution
	for _, e := range r.execs {
		if e.WorkItemID != workItemID {
			continue
		}
		if latest == nil || e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, errs.Newf(errs.KindNotFound, "EXEC_NOT_FOUND", "no execution for work item %s", workItemID)
	}
	return latest, nil
}

func (r *ExecutionRepository) List(ctx context.Context) ([]*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*execution.Execution, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.execs[id])
	}
	return out, nil
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, status execution.Status) ([]*execution.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*execution.Execution
	for _, id := range r.order {
		if e := r.execs[id]; e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

// WorkItemRepository stores work items in a map
type WorkItemRepository struct {
	mu    sync.RWMutex
	items map[string]*workitem.WorkItem
	order []string
}

// NewWorkItemRepository creates an empty in-memory work item repository
func NewWorkItemRepository() *WorkItemRepository {
	return &WorkItemRepository{items: make(map[string]*workitem.WorkItem)}
}

func (r *WorkItemRepository) Save(ctx context.Context, w *workitem.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[w.ID]; !exists {
		r.order = append(r.order, w.ID)
	}
	r.items[w.ID] = w
	return nil
}

func (r *WorkItemRepository) Find(ctx context.Context, id string) (*workitem.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.items[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "ITEM_NOT_FOUND", "work item %s not found", id)
	}
	return w, nil
}

func (r *WorkItemRepository) List(ctx context.Context) ([]*workitem.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*workitem.WorkItem, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out, nil
}

func (r *WorkItemRepository) ListByStatus(ctx context.Context, status workitem.Status) ([]*workitem.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*workitem.WorkItem
	for _, id := range r.order {
		if w := r.items[id]; w.Status == status {
			out = append(out, w)
		}
	}
	return out, nil
}

// AgentRepository stores agent records in a map
type AgentRepository struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
}

// NewAgentRepository creates an empty in-memory agent repository
func NewAgentRepository() *AgentRepository {
	return &AgentRepository{agents: make(map[string]*agent.Agent)}
}

func (r *AgentRepository) Save(ctx context.Context, a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
	return nil
}

func (r *AgentRepository) Find(ctx context.Context, id string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "AGENT_NOT_FOUND", "agent %s not found", id)
	}
	return a, nil
}

func (r *AgentRepository) FindByExecution(ctx context.Context, executionID execution.ExecutionID) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *agent.Agent
	for _, a := range r.agents {
		if a.ExecutionID != executionID {
			continue
		}
		if latest == nil || a.AssignedAt.After(latest.AssignedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, errs.Newf(errs.KindNotFound, "AGENT_NOT_FOUND", "no agent for execution %s", executionID)
	}
	return latest, nil
}

func (r *AgentRepository) ListActive(ctx context.Context) ([]*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range r.agents {
		if !a.Status.IsTerminal() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

// MergeRepository stores merge requests in a map
type MergeRepository struct {
	mu   sync.RWMutex
	reqs map[string]*merge.Request
	ids  []string
}

// NewMergeRepository creates an empty in-memory merge repository
func NewMergeRepository() *MergeRepository {
	return &MergeRepository{reqs: make(map[string]*merge.Request)}
}

func (r *MergeRepository) Save(ctx context.Context, req *merge.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reqs[req.ID]; !exists {
		r.ids = append(r.ids, req.ID)
	}
	r.reqs[req.ID] = req
	return nil
}

func (r *MergeRepository) Find(ctx context.Context, id string) (*merge.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "MERGE_NOT_FOUND", "merge request %s not found", id)
	}
	return req, nil
}

func (r *MergeRepository) ListPendingByTarget(ctx context.Context, targetBaseline string) ([]*merge.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*merge.Request
	for _, id := range r.ids {
		req := r.reqs[id]
		if req.TargetBaseline != targetBaseline {
			continue
		}
		if req.Status == merge.StatusMerged || req.Status == merge.StatusCanceled {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *MergeRepository) NextPosition(ctx context.Context, targetBaseline string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, req := range r.reqs {
		if req.TargetBaseline == targetBaseline && req.Position > max {
			max = req.Position
		}
	}
	return max + 1, nil
}

func (r *MergeRepository) List(ctx context.Context) ([]*merge.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*merge.Request, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.reqs[id])
	}
	return out, nil
}

// ReservationRepository stores reservations in a map. Claim is linearized
// by the mutex the same way the SQLite PRIMARY KEY linearizes the INSERT.
type ReservationRepository struct {
	mu   sync.Mutex
	held map[string]*reservation.Reservation
}

// NewReservationRepository creates an empty in-memory reservation repository
func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{held: make(map[string]*reservation.Reservation)}
}

func (r *ReservationRepository) Claim(ctx context.Context, resourceID, holderID string, resType reservation.Type, ttl time.Duration) (*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.held[resourceID]; ok {
		if !existing.IsExpired() && existing.HolderID() != holderID {
			return nil, errs.Newf(errs.KindConflict, "RES_HELD", "resource %s is held by %s", resourceID, existing.HolderID()).
				WithDetails(map[string]interface{}{"holder": existing.HolderID()})
		}
		delete(r.held, resourceID)
	}

	res, err := reservation.New(resourceID, holderID, resType, ttl)
	if err != nil {
		return nil, err
	}
	r.held[resourceID] = res
	return res, nil
}

func (r *ReservationRepository) Release(ctx context.Context, resourceID, holderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.held[resourceID]; ok && existing.HolderID() == holderID {
		delete(r.held, resourceID)
	}
	return nil
}

func (r *ReservationRepository) Extend(ctx context.Context, resourceID, holderID string, newTTL time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.held[resourceID]
	if !ok || existing.IsExpired() {
		return errs.Newf(errs.KindNotFound, "RES_NOT_FOUND", "no live reservation on %s", resourceID)
	}
	if existing.HolderID() != holderID {
		return errs.Newf(errs.KindConflict, "RES_NOT_HOLDER", "resource %s is held by %s", resourceID, existing.HolderID())
	}
	existing.Extend(newTTL)
	return nil
}

func (r *ReservationRepository) Find(ctx context.Context, resourceID string) (*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.held[resourceID]
	if !ok || existing.IsExpired() {
		return nil, nil
	}
	return existing, nil
}

func (r *ReservationRepository) ReleaseByHolder(ctx context.Context, holderID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, res := range r.held {
		if res.HolderID() == holderID {
			delete(r.held, id)
			n++
		}
	}
	return n, nil
}

func (r *ReservationRepository) CleanupExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, res := range r.held {
		if res.IsExpired() {
			delete(r.held, id)
			n++
		}
	}
	return n, nil
}

func (r *ReservationRepository) List(ctx context.Context) ([]*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*reservation.Reservation, 0, len(r.held))
	for _, res := range r.held {
		if !res.IsExpired() {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID() < out[j].ResourceID() })
	return out, nil
}

// NopTransactionManager runs the function directly with no transaction
type NopTransactionManager struct{}

// InTransaction implements output.TransactionManager
func (NopTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

var (
	_ repository.ExecutionRepository   = (*ExecutionRepository)(nil)
	_ repository.WorkItemRepository    = (*WorkItemRepository)(nil)
	_ repository.AgentRepository       = (*AgentRepository)(nil)
	_ repository.MergeRepository       = (*MergeRepository)(nil)
	_ repository.ReservationRepository = (*ReservationRepository)(nil)
	_ output.TransactionManager        = NopTransactionManager{}
)
