package gatewaydb

import (
	"context"
	"time"
)

const userColumns = `id, email, display_name, role, created_at, last_login_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.DisplayName,
		&i.Role,
		&i.CreatedAt,
		&i.LastLoginAt,
	)
	return i, err
}

const createUser = `-- name: CreateUser :exec
INSERT INTO users (id, email, display_name, role, created_at, last_login_at)
VALUES (?, ?, ?, ?, ?, ?)`

type CreateUserParams struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser,
		arg.ID,
		arg.Email,
		arg.DisplayName,
		arg.Role,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getUserByID = `-- name: GetUserByID :one
SELECT ` + userColumns + `
FROM users
WHERE id = ?`

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	return scanUser(row)
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT ` + userColumns + `
FROM users
WHERE email = ?`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	return scanUser(row)
}

const recordLogin = `-- name: RecordLogin :exec
UPDATE users
SET display_name = COALESCE(NULLIF(?1, ''), display_name),
    role = COALESCE(NULLIF(?2, ''), role),
    last_login_at = ?3
WHERE id = ?4`

// RecordLoginParams の空文字列のフィールドは既存の値を維持する。
type RecordLoginParams struct {
	DisplayName string
	Role        string
	LastLoginAt time.Time
	ID          string
}

func (q *Queries) RecordLogin(ctx context.Context, arg RecordLoginParams) error {
	_, err := q.db.ExecContext(ctx, recordLogin,
		arg.DisplayName,
		arg.Role,
		arg.LastLoginAt,
		arg.ID,
	)
	return err
}
