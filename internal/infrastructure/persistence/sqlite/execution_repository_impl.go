package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hmiyata/weave/internal/domain/model/errs"
	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/repository"
)

// ExecutionRepositoryImpl implements repository.ExecutionRepository with SQLite
type ExecutionRepositoryImpl struct {
	db *sql.DB
}

// NewExecutionRepository creates a new SQLite-based execution repository
func NewExecutionRepository(db *sql.DB) repository.ExecutionRepository {
	return &ExecutionRepositoryImpl{db: db}
}

// Save upserts the execution record and appends any new journal entries.
// Both writes ride the same transaction when the context carries one, which
// is what keeps a transition and its log entry atomic.
func (r *ExecutionRepositoryImpl) Save(ctx context.Context, e *execution.Execution) error {
	db := executor(ctx, r.db)

	phases, err := json.Marshal(e.Phases)
	if err != nil {
		return fmt.Errorf("marshal phases: %w", err)
	}
	gates, err := json.Marshal(e.Gates)
	if err != nil {
		return fmt.Errorf("marshal gates: %w", err)
	}
	failures, err := json.Marshal(e.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO executions (
			id, template_id, work_item_id, status, phase_index,
			phases, gates, failures, retry_count, blocked_note, prior_status,
			started_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			phase_index = excluded.phase_index,
			phases = excluded.phases,
			gates = excluded.gates,
			failures = excluded.failures,
			retry_count = excluded.retry_count,
			blocked_note = excluded.blocked_note,
			prior_status = excluded.prior_status,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`,
		e.ID.String(), e.TemplateID, e.WorkItemID, e.Status.String(), e.PhaseIndex,
		string(phases), string(gates), string(failures), e.RetryCount, e.BlockedNote, e.PriorStatus().String(),
		formatTime(e.StartedAt), formatTime(e.UpdatedAt), formatNullableTime(e.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}

	// Journal entries are immutable; entries already present keep their row.
	for _, entry := range e.Journal {
		if _, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO execution_journal (execution_id, seq, at, event, detail)
			VALUES (?, ?, ?, ?, ?)
		`, e.ID.String(), entry.Seq, formatTime(entry.At), entry.Event, entry.Detail); err != nil {
			return fmt.Errorf("save journal entry %d: %w", entry.Seq, err)
		}
	}
	return nil
}

// Find loads one execution with its journal
func (r *ExecutionRepositoryImpl) Find(ctx context.Context, id execution.ExecutionID) (*execution.Execution, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT id, template_id, work_item_id, status, phase_index,
		       phases, gates, failures, retry_count, blocked_note, prior_status,
		       started_at, updated_at, completed_at
		FROM executions WHERE id = ?
	`, id.String())
	return r.scanExecution(ctx, db, row)
}

// FindByWorkItem returns the most recent execution for a work item
func (r *ExecutionRepositoryImpl) FindByWorkItem(ctx context.Context, workItemID string) (*execution.Execution, error) {
	db := executor(ctx, r.db)
	row := db.QueryRowContext(ctx, `
		SELECT id, template_id, work_item_id, status, phase_index,
		       phases, gates, failures, retry_count, blocked_note, prior_status,
		       started_at, updated_at, completed_at
		FROM executions WHERE work_item_id = ?
		ORDER BY started_at DESC LIMIT 1
	`, workItemID)
	return r.scanExecution(ctx, db, row)
}

// List returns all executions ordered by start time
func (r *ExecutionRepositoryImpl) List(ctx context.Context) ([]*execution.Execution, error) {
	return r.list(ctx, `
		SELECT id, template_id, work_item_id, status, phase_index,
		       phases, gates, failures, retry_count, blocked_note, prior_status,
		       started_at, updated_at, completed_at
		FROM executions ORDER BY started_at
	`)
}

// ListByStatus returns executions in the given status
func (r *ExecutionRepositoryImpl) ListByStatus(ctx context.Context, status execution.Status) ([]*execution.Execution, error) {
	return r.list(ctx, `
		SELECT id, template_id, work_item_id, status, phase_index,
		       phases, gates, failures, retry_count, blocked_note, prior_status,
		       started_at, updated_at, completed_at
		FROM executions WHERE status = ? ORDER BY started_at
	`, status.String())
}

func (r *ExecutionRepositoryImpl) list(ctx context.Context, query string, args ...interface{}) ([]*execution.Execution, error) {
	db := executor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		e, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, e := range out {
		journal, err := r.loadJournal(ctx, db, e.ID)
		if err != nil {
			return nil, err
		}
		attachJournal(e, journal)
	}
	return out, nil
}

func (r *ExecutionRepositoryImpl) scanExecution(ctx context.Context, db dbExecutor, row *sql.Row) (*execution.Execution, error) {
	e, err := r.scanRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "EXEC_NOT_FOUND", "execution not found")
	}
	if err != nil {
		return nil, err
	}
	journal, err := r.loadJournal(ctx, db, e.ID)
	if err != nil {
		return nil, err
	}
	attachJournal(e, journal)
	return e, nil
}

func (r *ExecutionRepositoryImpl) scanRow(scan func(dest ...interface{}) error) (*execution.Execution, error) {
	var (
		id, templateID, status, priorStatus string
		workItemID, blockedNote             sql.NullString
		phaseIndex, retryCount              int
		phasesJSON, gatesJSON, failuresJSON string
		startedAt, updatedAt                string
		completedAt                         sql.NullString
	)
	if err := scan(
		&id, &templateID, &workItemID, &status, &phaseIndex,
		&phasesJSON, &gatesJSON, &failuresJSON, &retryCount, &blockedNote, &priorStatus,
		&startedAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	var phases []execution.PhaseRecord
	if err := json.Unmarshal([]byte(phasesJSON), &phases); err != nil {
		return nil, fmt.Errorf("unmarshal phases: %w", err)
	}
	var gates []execution.GateRecord
	if err := json.Unmarshal([]byte(gatesJSON), &gates); err != nil {
		return nil, fmt.Errorf("unmarshal gates: %w", err)
	}
	var failures []execution.FailureRecord
	if err := json.Unmarshal([]byte(failuresJSON), &failures); err != nil {
		return nil, fmt.Errorf("unmarshal failures: %w", err)
	}

	started, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	completed, err := parseNullableTime(completedAt)
	if err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return execution.Reconstruct(
		execution.ExecutionID(id),
		templateID, workItemID.String,
		execution.Status(status),
		phaseIndex,
		phases, gates, failures,
		retryCount,
		blockedNote.String,
		execution.Status(priorStatus),
		nil,
		started, updated, completed,
	), nil
}

func (r *ExecutionRepositoryImpl) loadJournal(ctx context.Context, db dbExecutor, id execution.ExecutionID) ([]execution.JournalEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, at, event, detail FROM execution_journal
		WHERE execution_id = ? ORDER BY seq
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var journal []execution.JournalEntry
	for rows.Next() {
		var (
			entry execution.JournalEntry
			at    string
		)
		if err := rows.Scan(&entry.Seq, &at, &entry.Event, &entry.Detail); err != nil {
			return nil, err
		}
		if entry.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse journal time: %w", err)
		}
		journal = append(journal, entry)
	}
	return journal, rows.Err()
}

func attachJournal(e *execution.Execution, journal []execution.JournalEntry) {
	e.Journal = journal
}
