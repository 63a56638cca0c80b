package trainingdb

import (
	"context"
	"time"
)

const trainingColumns = `id, title, description, content_url, category, author_id, published, published_at, created_at`

func scanTraining(row interface{ Scan(...interface{}) error }) (Training, error) {
	var i Training
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.Description,
		&i.ContentURL,
		&i.Category,
		&i.AuthorID,
		&i.Published,
		&i.PublishedAt,
		&i.CreatedAt,
	)
	return i, err
}

const createTraining = `-- name: CreateTraining :exec
INSERT INTO trainings (id, title, description, content_url, category, author_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

type CreateTrainingParams struct {
	ID          string
	Title       string
	Description string
	ContentURL  string
	Category    string
	AuthorID    string
	CreatedAt   time.Time
}

func (q *Queries) CreateTraining(ctx context.Context, arg CreateTrainingParams) error {
	_, err := q.db.ExecContext(ctx, createTraining,
		arg.ID,
		arg.Title,
		arg.Description,
		arg.ContentURL,
		arg.Category,
		arg.AuthorID,
		arg.CreatedAt,
	)
	return err
}

const getTrainingByID = `-- name: GetTrainingByID :one
SELECT ` + trainingColumns + `
FROM trainings
WHERE id = ?`

func (q *Queries) GetTrainingByID(ctx context.Context, id string) (Training, error) {
	row := q.db.QueryRowContext(ctx, getTrainingByID, id)
	return scanTraining(row)
}

const getPublishedTraining = `-- name: GetPublishedTraining :one
SELECT ` + trainingColumns + `
FROM trainings
WHERE id = ? AND published = 1`

func (q *Queries) GetPublishedTraining(ctx context.Context, id string) (Training, error) {
	row := q.db.QueryRowContext(ctx, getPublishedTraining, id)
	return scanTraining(row)
}

const listPublishedTrainings = `-- name: ListPublishedTrainings :many
SELECT ` + trainingColumns + `
FROM trainings
WHERE published = 1
ORDER BY published_at DESC, rowid DESC`

func (q *Queries) ListPublishedTrainings(ctx context.Context) ([]Training, error) {
	return q.list(ctx, listPublishedTrainings)
}

const listPublishedTrainingsByCategory = `-- name: ListPublishedTrainingsByCategory :many
SELECT ` + trainingColumns + `
FROM trainings
WHERE published = 1 AND category = ?
ORDER BY published_at DESC, rowid DESC`

func (q *Queries) ListPublishedTrainingsByCategory(ctx context.Context, category string) ([]Training, error) {
	return q.list(ctx, listPublishedTrainingsByCategory, category)
}

const listDraftTrainings = `-- name: ListDraftTrainings :many
SELECT ` + trainingColumns + `
FROM trainings
WHERE published = 0
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListDraftTrainings(ctx context.Context) ([]Training, error) {
	return q.list(ctx, listDraftTrainings)
}

func (q *Queries) list(ctx context.Context, query string, args ...interface{}) ([]Training, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Training
	for rows.Next() {
		i, err := scanTraining(rows)
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

const publishTraining = `-- name: PublishTraining :execrows
UPDATE trainings
SET published = 1, published_at = ?
WHERE id = ? AND published = 0`

func (q *Queries) PublishTraining(ctx context.Context, publishedAt time.Time, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, publishTraining, publishedAt, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
