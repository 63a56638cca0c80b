package notificationdb

import (
	"context"
	"time"
)

const notificationColumns = `id, user_id, sender_id, title, message, type, is_read, link, related_id, created_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (Notification, error) {
	var i Notification
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.SenderID,
		&i.Title,
		&i.Message,
		&i.Type,
		&i.IsRead,
		&i.Link,
		&i.RelatedID,
		&i.CreatedAt,
	)
	return i, err
}

const createNotification = `-- name: CreateNotification :exec
INSERT INTO notifications (id, user_id, sender_id, title, message, type, link, related_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

type CreateNotificationParams struct {
	ID        string
	UserID    string
	SenderID  string
	Title     string
	Message   string
	Type      string
	Link      string
	RelatedID string
	CreatedAt time.Time
}

func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.ExecContext(ctx, createNotification,
		arg.ID,
		arg.UserID,
		arg.SenderID,
		arg.Title,
		arg.Message,
		arg.Type,
		arg.Link,
		arg.RelatedID,
		arg.CreatedAt,
	)
	return err
}

const getNotificationByID = `-- name: GetNotificationByID :one
SELECT ` + notificationColumns + `
FROM notifications
WHERE id = ?`

func (q *Queries) GetNotificationByID(ctx context.Context, id string) (Notification, error) {
	row := q.db.QueryRowContext(ctx, getNotificationByID, id)
	return scanNotification(row)
}

const listNotificationsByUserID = `-- name: ListNotificationsByUserID :many
SELECT ` + notificationColumns + `
FROM notifications
WHERE user_id = ?
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListNotificationsByUserID(ctx context.Context, userID string) ([]Notification, error) {
	return q.list(ctx, listNotificationsByUserID, userID)
}

const listUnreadNotifications = `-- name: ListUnreadNotifications :many
SELECT ` + notificationColumns + `
FROM notifications
WHERE user_id = ? AND is_read = 0
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	return q.list(ctx, listUnreadNotifications, userID)
}

func (q *Queries) list(ctx context.Context, query string, args ...interface{}) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Notification
	for rows.Next() {
		i, err := scanNotification(rows)
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

const countUnreadNotifications = `-- name: CountUnreadNotifications :one
SELECT COUNT(*) FROM notifications
WHERE user_id = ? AND is_read = 0`

func (q *Queries) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnreadNotifications, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const markAsRead = `-- name: MarkAsRead :execrows
UPDATE notifications SET is_read = 1
WHERE id = ? AND is_read = 0`

// MarkAsRead は未読の通知を既読にする。既読の通知は変更しない。
func (q *Queries) MarkAsRead(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markAsRead, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markAllAsRead = `-- name: MarkAllAsRead :execrows
UPDATE notifications SET is_read = 1
WHERE user_id = ? AND is_read = 0`

// MarkAllAsRead は指定ユーザーの未読通知をすべて既読にし、更新件数を返す。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markAllAsRead, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteNotification = `-- name: DeleteNotification :execrows
DELETE FROM notifications
WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteNotification(ctx context.Context, id, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteNotification, id, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
