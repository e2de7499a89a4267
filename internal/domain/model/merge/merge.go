package merge

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// Status represents the queue state of a merge request
type Status string

const (
	StatusQueued     Status = "queued"
	StatusChecking   Status = "checking"
	StatusReady      Status = "ready"
	StatusMerging    Status = "merging"
	StatusMerged     Status = "merged"
	StatusConflicted Status = "conflicted" // parked, re-checked after the baseline changes
	StatusCanceled   Status = "canceled"
)

// Request is one completed agent's change awaiting integration into the
// shared baseline. Requests against a target apply strictly one at a time.
type Request struct {
	ID               string                `json:"id"`
	ExecutionID      execution.ExecutionID `json:"execution_id"`
	SourceBranch     string                `json:"source_branch"`
	TargetBaseline   string                `json:"target_baseline"`
	Status           Status                `json:"status"`
	ConflictingPaths []string              `json:"conflicting_paths,omitempty"`
	Position         int                   `json:"position"` // order in queue, FIFO by enqueue time
	EnqueuedAt       time.Time             `json:"enqueued_at"`
	MergedAt         *time.Time            `json:"merged_at,omitempty"`
}

// NewRequest enqueues a merge of sourceBranch into targetBaseline
func NewRequest(executionID execution.ExecutionID, sourceBranch, targetBaseline string) (*Request, error) {
	if sourceBranch == "" {
		return nil, errs.New(errs.KindValidation, "MERGE_SOURCE_REQUIRED", "source branch is required")
	}
	if targetBaseline == "" {
		return nil, errs.New(errs.KindValidation, "MERGE_TARGET_REQUIRED", "target baseline is required")
	}
	return &Request{
		ID:             "mr-" + ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String(),
		ExecutionID:    executionID,
		SourceBranch:   sourceBranch,
		TargetBaseline: targetBaseline,
		Status:         StatusQueued,
		EnqueuedAt:     time.Now().UTC(),
	}, nil
}

// BeginCheck moves the request into conflict checking
func (r *Request) BeginCheck() error {
	switch r.Status {
	case StatusQueued, StatusReady, StatusConflicted:
		r.Status = StatusChecking
		return nil
	default:
		return errs.Newf(errs.KindConflict, "MERGE_BAD_STATE", "merge %s is %s", r.ID, r.Status)
	}
}

// MarkReady records a clean dry-run
func (r *Request) MarkReady() error {
	if r.Status != StatusChecking {
		return errs.Newf(errs.KindConflict, "MERGE_BAD_STATE", "merge %s is %s", r.ID, r.Status)
	}
	r.Status = StatusReady
	r.ConflictingPaths = nil
	return nil
}

// Park records conflicting paths. The request is kept, not dropped, and is
// re-checked after the target baseline next changes.
func (r *Request) Park(paths []string) error {
	if r.Status != StatusChecking {
		return errs.Newf(errs.KindConflict, "MERGE_BAD_STATE", "merge %s is %s", r.ID, r.Status)
	}
	r.Status = StatusConflicted
	r.ConflictingPaths = paths
	return nil
}

// BeginMerge takes the request into the serialized merging sub-state.
// Only one request per target baseline may be merging at any instant; the
// coordinator enforces that with a per-target mutex.
func (r *Request) BeginMerge() error {
	if r.Status != StatusReady {
		return errs.Newf(errs.KindConflict, "MERGE_NOT_READY", "merge %s is %s", r.ID, r.Status)
	}
	r.Status = StatusMerging
	return nil
}

// MarkMerged finishes the merge
func (r *Request) MarkMerged() error {
	if r.Status != StatusMerging {
		return errs.Newf(errs.KindConflict, "MERGE_BAD_STATE", "merge %s is %s", r.ID, r.Status)
	}
	now := time.Now().UTC()
	r.Status = StatusMerged
	r.MergedAt = &now
	return nil
}

// Cancel pulls the request from the queue (aborted execution)
func (r *Request) Cancel() error {
	if r.Status == StatusMerged || r.Status == StatusMerging {
		return errs.Newf(errs.KindConflict, "MERGE_BAD_STATE", "merge %s is %s", r.ID, r.Status)
	}
	r.Status = StatusCanceled
	return nil
}

// IsPending reports whether the request still wants integration
func (r *Request) IsPending() bool {
	switch r.Status {
	case StatusMerged, StatusCanceled:
		return false
	default:
		return true
	}
}
