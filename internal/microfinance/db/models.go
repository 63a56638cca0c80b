package microfinancedb

import (
	"database/sql"
	"time"
)

// Loan は loans テーブルの1行。
type Loan struct {
	ID              string
	UserID          string
	ProviderName    string
	Amount          float64
	Purpose         string
	Status          string
	InterestRate    float64
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DecisionTask は decision_tasks テーブルの1行。
type DecisionTask struct {
	ID           string
	LoanID       string
	UserID       string
	ProviderName string
	DueAt        time.Time
	Status       string
	LastError    string
	CreatedAt    time.Time
	ProcessedAt  sql.NullTime
}
