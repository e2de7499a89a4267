package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// WorkItemRepositoryImpl implements repository.WorkItemRepository with SQLite
type WorkItemRepositoryImpl struct {
	db *sql.DB
}

// NewWorkItemRepository creates a new SQLite-based work item repository
func NewWorkItemRepository(db *sql.DB) repository.WorkItemRepository {
	return &WorkItemRepositoryImpl{db: db}
}

// Save upserts a work item. New items get the next backlog sequence so
// equal leverage scores dispatch in registration order.
func (r *WorkItemRepositoryImpl) Save(ctx context.Context, w *workitem.WorkItem) error {
	db := executor(ctx, r.db)

	if w.Sequence == 0 {
		var max sql.NullInt64
		if err := db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM work_items`).Scan(&max); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		w.Sequence = int(max.Int64) + 1
	}

	factors, err := json.Marshal(w.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	deps, err := json.Marshal(w.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO work_items (id, title, template_id, factors, depends_on, status, registered_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			factors = excluded.factors,
			depends_on = excluded.depends_on,
			status = excluded.status
	`, w.ID, w.Title, w.TemplateID, string(factors), string(deps), string(w.Status),
		formatTime(w.RegisteredAt), w.Sequence)
	if err != nil {
		return fmt.Errorf("save work item: %w", err)
	}
	return nil
}

// Find loads one work item
func (r *WorkItemRepositoryImpl) Find(ctx context.Context, id string) (*workitem.WorkItem, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT id, title, template_id, factors, depends_on, status, registered_at, sequence
		FROM work_items WHERE id = ?
	`, id)
	w, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "ITEM_NOT_FOUND", "work item %s not found", id)
	}
	return w, err
}

// List returns the whole backlog in registration order
func (r *WorkItemRepositoryImpl) List(ctx context.Context) ([]*workitem.WorkItem, error) {
	return r.list(ctx, `
		SELECT id, title, template_id, factors, depends_on, status, registered_at, sequence
		FROM work_items ORDER BY sequence
	`)
}

// ListByStatus returns backlog items in the given status
func (r *WorkItemRepositoryImpl) ListByStatus(ctx context.Context, status workitem.Status) ([]*workitem.WorkItem, error) {
	return r.list(ctx, `
		SELECT id, title, template_id, factors, depends_on, status, registered_at, sequence
		FROM work_items WHERE status = ? ORDER BY sequence
	`, string(status))
}

func (r *WorkItemRepositoryImpl) list(ctx context.Context, query string, args ...interface{}) ([]*workitem.WorkItem, error) {
	db := executor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}
	defer rows.Close()

	var out []*workitem.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorkItem(scan func(dest ...interface{}) error) (*workitem.WorkItem, error) {
	var (
		w            workitem.WorkItem
		factorsJSON  string
		depsJSON     string
		status       string
		registeredAt string
	)
	if err := scan(&w.ID, &w.Title, &w.TemplateID, &factorsJSON, &depsJSON, &status, &registeredAt, &w.Sequence); err != nil {
		return nil, err
	}
	w.Status = workitem.Status(status)

	if err := json.Unmarshal([]byte(factorsJSON), &w.Factors); err != nil {
		return nil, fmt.Errorf("unmarshal factors: %w", err)
	}
	if err := json.Unmarshal([]byte(depsJSON), &w.DependsOn); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	var err error
	if w.RegisteredAt, err = parseTime(registeredAt); err != nil {
		return nil, fmt.Errorf("parse registered_at: %w", err)
	}
	return &w, nil
}
