package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// MergeRepositoryImpl implements repository.MergeRepository with SQLite
type MergeRepositoryImpl struct {
	db *sql.DB
}

// NewMergeRepository creates a new SQLite-based merge request repository
func NewMergeRepository(db *sql.DB) repository.MergeRepository {
	return &MergeRepositoryImpl{db: db}
}

// Save upserts a merge request
func (r *MergeRepositoryImpl) Save(ctx context.Context, req *merge.Request) error {
	db := executor(ctx, r.db)
	paths, err := json.Marshal(req.ConflictingPaths)
	if err != nil {
		return fmt.Errorf("marshal conflicting paths: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO merge_requests (
			id, execution_id, source_branch, target_baseline, status,
			conflicting_paths, position, enqueued_at, merged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			conflicting_paths = excluded.conflicting_paths,
			position = excluded.position,
			merged_at = excluded.merged_at
	`, req.ID, req.ExecutionID.String(), req.SourceBranch, req.TargetBaseline, string(req.Status),
		string(paths), req.Position, formatTime(req.EnqueuedAt), formatNullableTime(req.MergedAt))
	if err != nil {
		return fmt.Errorf("save merge request: %w", err)
	}
	return nil
}

// Find loads one merge request
func (r *MergeRepositoryImpl) Find(ctx context.Context, id string) (*merge.Request, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT id, execution_id, source_branch, target_baseline, status,
		       conflicting_paths, position, enqueued_at, merged_at
		FROM merge_requests WHERE id = ?
	`, id)
	req, err := scanMergeRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "MERGE_NOT_FOUND", "merge request %s not found", id)
	}
	return req, err
}

// ListPendingByTarget returns pending requests for a target in FIFO order
func (r *MergeRepositoryImpl) ListPendingByTarget(ctx context.Context, targetBaseline string) ([]*merge.Request, error) {
	return r.list(ctx, `
		SELECT id, execution_id, source_branch, target_baseline, status,
		       conflicting_paths, position, enqueued_at, merged_at
		FROM merge_requests
		WHERE target_baseline = ? AND status NOT IN (?, ?)
		ORDER BY position
	`, targetBaseline, string(merge.StatusMerged), string(merge.StatusCanceled))
}

// NextPosition returns the next FIFO position for a target baseline
func (r *MergeRepositoryImpl) NextPosition(ctx context.Context, targetBaseline string) (int, error) {
	db := executor(ctx, r.db)
	var max sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT MAX(position) FROM merge_requests WHERE target_baseline = ?`,
		targetBaseline).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// List returns all merge requests in enqueue order
func (r *MergeRepositoryImpl) List(ctx context.Context) ([]*merge.Request, error) {
	return r.list(ctx, `
		SELECT id, execution_id, source_branch, target_baseline, status,
		       conflicting_paths, position, enqueued_at, merged_at
		FROM merge_requests ORDER BY enqueued_at
	`)
}

func (r *MergeRepositoryImpl) list(ctx context.Context, query string, args ...interface{}) ([]*merge.Request, error) {
	db := executor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query merge requests: %w", err)
	}
	defer rows.Close()

	var out []*merge.Request
	for rows.Next() {
		req, err := scanMergeRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanMergeRequest(scan func(dest ...interface{}) error) (*merge.Request, error) {
	var (
		req         merge.Request
		executionID string
		status      string
		pathsJSON   string
		enqueuedAt  string
		mergedAt    sql.NullString
	)
	if err := scan(&req.ID, &executionID, &req.SourceBranch, &req.TargetBaseline, &status,
		&pathsJSON, &req.Position, &enqueuedAt, &mergedAt); err != nil {
		return nil, err
	}
	req.ExecutionID = execution.ExecutionID(executionID)
	req.Status = merge.Status(status)

	if err := json.Unmarshal([]byte(pathsJSON), &req.ConflictingPaths); err != nil {
		return nil, fmt.Errorf("unmarshal conflicting paths: %w", err)
	}
	var err error
	if req.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	if req.MergedAt, err = parseNullableTime(mergedAt); err != nil {
		return nil, fmt.Errorf("parse merged_at: %w", err)
	}
	return &req, nil
}
