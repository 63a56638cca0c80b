package microfinancedb

import (
	"context"
	"time"
)

const decisionTaskColumns = `id, loan_id, user_id, provider_name, due_at, status, last_error, created_at, processed_at`

func scanDecisionTask(row interface{ Scan(...interface{}) error }) (DecisionTask, error) {
	var i DecisionTask
	err := row.Scan(
		&i.ID,
		&i.LoanID,
		&i.UserID,
		&i.ProviderName,
		&i.DueAt,
		&i.Status,
		&i.LastError,
		&i.CreatedAt,
		&i.ProcessedAt,
	)
	return i, err
}

const createDecisionTask = `-- name: CreateDecisionTask :exec
INSERT INTO decision_tasks (id, loan_id, user_id, provider_name, due_at, status, created_at)
VALUES (?, ?, ?, ?, ?, 'pending', ?)`

type CreateDecisionTaskParams struct {
	ID           string
	LoanID       string
	UserID       string
	ProviderName string
	DueAt        time.Time
	CreatedAt    time.Time
}

func (q *Queries) CreateDecisionTask(ctx context.Context, arg CreateDecisionTaskParams) error {
	_, err := q.db.ExecContext(ctx, createDecisionTask,
		arg.ID,
		arg.LoanID,
		arg.UserID,
		arg.ProviderName,
		arg.DueAt,
		arg.CreatedAt,
	)
	return err
}

const getDecisionTaskByLoanID = `-- name: GetDecisionTaskByLoanID :one
SELECT ` + decisionTaskColumns + `
FROM decision_tasks
WHERE loan_id = ?`

func (q *Queries) GetDecisionTaskByLoanID(ctx context.Context, loanID string) (DecisionTask, error) {
	row := q.db.QueryRowContext(ctx, getDecisionTaskByLoanID, loanID)
	return scanDecisionTask(row)
}

const listDueDecisionTasks = `-- name: ListDueDecisionTasks :many
SELECT ` + decisionTaskColumns + `
FROM decision_tasks
WHERE status = 'pending' AND due_at <= ?
ORDER BY due_at ASC
LIMIT ?`

type ListDueDecisionTasksParams struct {
	Now   time.Time
	Limit int64
}

// ListDueDecisionTasks は期日が到来した未処理の審査タスクを期日の早い順に返す。
func (q *Queries) ListDueDecisionTasks(ctx context.Context, arg ListDueDecisionTasksParams) ([]DecisionTask, error) {
	rows, err := q.db.QueryContext(ctx, listDueDecisionTasks, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DecisionTask
	for rows.Next() {
		i, err := scanDecisionTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const completeDecisionTask = `-- name: CompleteDecisionTask :exec
UPDATE decision_tasks
SET status = 'done', processed_at = ?
WHERE id = ?`

type CompleteDecisionTaskParams struct {
	ProcessedAt time.Time
	ID          string
}

func (q *Queries) CompleteDecisionTask(ctx context.Context, arg CompleteDecisionTaskParams) error {
	_, err := q.db.ExecContext(ctx, completeDecisionTask, arg.ProcessedAt, arg.ID)
	return err
}

const failDecisionTask = `-- name: FailDecisionTask :exec
UPDATE decision_tasks
SET status = 'failed', last_error = ?, processed_at = ?
WHERE id = ?`

type FailDecisionTaskParams struct {
	LastError   string
	ProcessedAt time.Time
	ID          string
}

func (q *Queries) FailDecisionTask(ctx context.Context, arg FailDecisionTaskParams) error {
	_, err := q.db.ExecContext(ctx, failDecisionTask, arg.LastError, arg.ProcessedAt, arg.ID)
	return err
}
