package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/filequeue"
)

// TransitionRecord is one row of the approval audit log.
type TransitionRecord struct {
	ID         int64
	ApprovalID approval.ApprovalID
	TaskID     outreach.TaskID
	From       approval.State
	To         approval.State
	Iteration  int
	OccurredAt time.Time
}

// PostgresTransitionRepository keeps an append-only audit log of approval state changes. The
// file queue stays the source of truth; the log is for reporting.
type PostgresTransitionRepository struct {
	db *sql.DB
}

var _ filequeue.TransitionObserver = (*PostgresTransitionRepository)(nil)

func NewPostgresTransitionRepository(db *sql.DB) *PostgresTransitionRepository {
	return &PostgresTransitionRepository{db: db}
}

// ApprovalTransitioned appends t to the log.
func (r *PostgresTransitionRepository) ApprovalTransitioned(ctx context.Context, t filequeue.Transition) error {
	query := `INSERT INTO approval_transitions (approval_id, task_id, from_state, to_state, iteration, occurred_at)
               VALUES ($1, $2, $3, $4, $5, $6)`

	var from sql.NullString
	if t.From != "" {
		from = sql.NullString{String: string(t.From), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query, t.ApprovalID.String(), string(t.TaskID), from, string(t.To), t.Iteration, t.At)
	if err != nil {
		return fmt.Errorf("error recording transition for approval %s: %w", t.ApprovalID, err)
	}
	return nil
}

// ListByApproval returns the transitions of one approval, oldest first.
func (r *PostgresTransitionRepository) ListByApproval(ctx context.Context, id approval.ApprovalID) ([]*TransitionRecord, error) {
	query := `SELECT id, approval_id, task_id, from_state, to_state, iteration, occurred_at
               FROM approval_transitions WHERE approval_id = $1 ORDER BY occurred_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("error listing transitions: %w", err)
	}
	defer rows.Close()

	var records []*TransitionRecord
	for rows.Next() {
		var (
			rec        TransitionRecord
			approvalID string
			taskID     string
			from       sql.NullString
			to         string
		)
		if err := rows.Scan(&rec.ID, &approvalID, &taskID, &from, &to, &rec.Iteration, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("error scanning transition row: %w", err)
		}
		if rec.ApprovalID, err = approval.ParseApprovalID(approvalID); err != nil {
			return nil, fmt.Errorf("error scanning transition row: %w", err)
		}
		rec.TaskID = outreach.TaskID(taskID)
		rec.From = approval.State(from.String)
		rec.To = approval.State(to)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transition rows: %w", err)
	}
	return records, nil
}

// CountSince returns how many records reached each state since the given time.
func (r *PostgresTransitionRepository) CountSince(ctx context.Context, since time.Time) (map[approval.State]int, error) {
	query := `SELECT to_state, COUNT(*) FROM approval_transitions WHERE occurred_at >= $1 GROUP BY to_state`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("error counting transitions: %w", err)
	}
	defer rows.Close()

	counts := make(map[approval.State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("error scanning transition count: %w", err)
		}
		counts[approval.State(state)] = n
	}
	return counts, rows.Err()
}
