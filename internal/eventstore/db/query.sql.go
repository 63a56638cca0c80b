package eventstoredb

import (
	"context"
	"time"
)

const eventColumns = `id, aggregate_id, aggregate_type, event_type, data, version, created_at`

const appendEvent = `-- name: AppendEvent :one
INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
SELECT ?1, ?2, ?3, ?4, ?5, COALESCE(MAX(version), 0) + 1, ?6
FROM events
WHERE aggregate_id = ?2
RETURNING version`

type AppendEventParams struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Data          string
	CreatedAt     time.Time
}

// AppendEvent はAggregateの最新バージョンに1を加えたバージョンでイベントを追記し、
// 採番したバージョンを返す。
func (q *Queries) AppendEvent(ctx context.Context, arg AppendEventParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, appendEvent,
		arg.ID,
		arg.AggregateID,
		arg.AggregateType,
		arg.EventType,
		arg.Data,
		arg.CreatedAt,
	)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const getLatestVersion = `-- name: GetLatestVersion :one
SELECT CAST(COALESCE(MAX(version), 0) AS INTEGER)
FROM events
WHERE aggregate_id = ?`

func (q *Queries) GetLatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getLatestVersion, aggregateID)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const listEvents = `-- name: ListEvents :many
SELECT ` + eventColumns + `
FROM events
ORDER BY created_at ASC, rowid ASC`

func (q *Queries) ListEvents(ctx context.Context) ([]Event, error) {
	return q.list(ctx, listEvents)
}

const listEventsByAggregateID = `-- name: ListEventsByAggregateID :many
SELECT ` + eventColumns + `
FROM events
WHERE aggregate_id = ?
ORDER BY version ASC`

func (q *Queries) ListEventsByAggregateID(ctx context.Context, aggregateID string) ([]Event, error) {
	return q.list(ctx, listEventsByAggregateID, aggregateID)
}

const listEventsByType = `-- name: ListEventsByType :many
SELECT ` + eventColumns + `
FROM events
WHERE event_type = ?
ORDER BY created_at ASC, rowid ASC`

func (q *Queries) ListEventsByType(ctx context.Context, eventType string) ([]Event, error) {
	return q.list(ctx, listEventsByType, eventType)
}

const listEventsSince = `-- name: ListEventsSince :many
SELECT ` + eventColumns + `
FROM events
WHERE created_at >= ?
ORDER BY created_at ASC, rowid ASC`

func (q *Queries) ListEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	return q.list(ctx, listEventsSince, since)
}

func (q *Queries) list(ctx context.Context, query string, args ...interface{}) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Event
	for rows.Next() {
		var i Event
		if err := rows.Scan(
			&i.ID,
			&i.AggregateID,
			&i.AggregateType,
			&i.EventType,
			&i.Data,
			&i.Version,
			&i.CreatedAt,
		); err != nil {
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
