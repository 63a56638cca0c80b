package microfinancedb

import (
	"context"
	"time"
)

const loanColumns = `id, user_id, provider_name, amount, purpose, status, interest_rate, rejection_reason, created_at, updated_at`

func scanLoan(row interface{ Scan(...interface{}) error }) (Loan, error) {
	var i Loan
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.ProviderName,
		&i.Amount,
		&i.Purpose,
		&i.Status,
		&i.InterestRate,
		&i.RejectionReason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createLoan = `-- name: CreateLoan :exec
INSERT INTO loans (id, user_id, provider_name, amount, purpose, status, interest_rate, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'Pending', ?, ?, ?)`

type CreateLoanParams struct {
	ID           string
	UserID       string
	ProviderName string
	Amount       float64
	Purpose      string
	InterestRate float64
	CreatedAt    time.Time
}

// CreateLoan は審査待ち（Pending）のローン申請を作成する。
func (q *Queries) CreateLoan(ctx context.Context, arg CreateLoanParams) error {
	_, err := q.db.ExecContext(ctx, createLoan,
		arg.ID,
		arg.UserID,
		arg.ProviderName,
		arg.Amount,
		arg.Purpose,
		arg.InterestRate,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getLoanByID = `-- name: GetLoanByID :one
SELECT ` + loanColumns + `
FROM loans
WHERE id = ?`

func (q *Queries) GetLoanByID(ctx context.Context, id string) (Loan, error) {
	row := q.db.QueryRowContext(ctx, getLoanByID, id)
	return scanLoan(row)
}

const listLoansByUserID = `-- name: ListLoansByUserID :many
SELECT ` + loanColumns + `
FROM loans
WHERE user_id = ?
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListLoansByUserID(ctx context.Context, userID string) ([]Loan, error) {
	rows, err := q.db.QueryContext(ctx, listLoansByUserID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Loan
	for rows.Next() {
		i, err := scanLoan(rows)
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

const decideLoan = `-- name: DecideLoan :execrows
UPDATE loans
SET status = ?, rejection_reason = ?, updated_at = ?
WHERE id = ? AND status = 'Pending'`

type DecideLoanParams struct {
	Status          string
	RejectionReason string
	UpdatedAt       time.Time
	ID              string
}

// DecideLoan は審査待ちのローン申請に審査結果を反映する。
// 既に審査結果が確定している申請は更新せず、0件を返す。
func (q *Queries) DecideLoan(ctx context.Context, arg DecideLoanParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, decideLoan,
		arg.Status,
		arg.RejectionReason,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
