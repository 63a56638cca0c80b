package bookingdb

import (
	"context"
	"time"
)

const bookingColumns = `id, buyer_id, seller_id, service_type, description, amount, status, created_at, updated_at`

func scanBooking(row interface{ Scan(...interface{}) error }) (Booking, error) {
	var i Booking
	err := row.Scan(
		&i.ID,
		&i.BuyerID,
		&i.SellerID,
		&i.ServiceType,
		&i.Description,
		&i.Amount,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createBooking = `-- name: CreateBooking :exec
INSERT INTO bookings (id, buyer_id, seller_id, service_type, description, amount, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 'Pending', ?, ?)`

type CreateBookingParams struct {
	ID          string
	BuyerID     string
	SellerID    string
	ServiceType string
	Description string
	Amount      float64
	CreatedAt   time.Time
}

func (q *Queries) CreateBooking(ctx context.Context, arg CreateBookingParams) error {
	_, err := q.db.ExecContext(ctx, createBooking,
		arg.ID,
		arg.BuyerID,
		arg.SellerID,
		arg.ServiceType,
		arg.Description,
		arg.Amount,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getBookingByID = `-- name: GetBookingByID :one
SELECT ` + bookingColumns + `
FROM bookings
WHERE id = ?`

func (q *Queries) GetBookingByID(ctx context.Context, id string) (Booking, error) {
	row := q.db.QueryRowContext(ctx, getBookingByID, id)
	return scanBooking(row)
}

const listBookingsByBuyerID = `-- name: ListBookingsByBuyerID :many
SELECT ` + bookingColumns + `
FROM bookings
WHERE buyer_id = ?
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListBookingsByBuyerID(ctx context.Context, buyerID string) ([]Booking, error) {
	return q.list(ctx, listBookingsByBuyerID, buyerID)
}

const listBookingsBySellerID = `-- name: ListBookingsBySellerID :many
SELECT ` + bookingColumns + `
FROM bookings
WHERE seller_id = ?
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListBookingsBySellerID(ctx context.Context, sellerID string) ([]Booking, error) {
	return q.list(ctx, listBookingsBySellerID, sellerID)
}

const listBookingsByParticipant = `-- name: ListBookingsByParticipant :many
SELECT ` + bookingColumns + `
FROM bookings
WHERE buyer_id = ?1 OR seller_id = ?1
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListBookingsByParticipant(ctx context.Context, userID string) ([]Booking, error) {
	return q.list(ctx, listBookingsByParticipant, userID)
}

func (q *Queries) list(ctx context.Context, query string, args ...interface{}) ([]Booking, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Booking
	for rows.Next() {
		i, err := scanBooking(rows)
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

const updateBookingStatus = `-- name: UpdateBookingStatus :execrows
UPDATE bookings
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?`

type UpdateBookingStatusParams struct {
	Status     string
	UpdatedAt  time.Time
	ID         string
	FromStatus string
}

// UpdateBookingStatus は現在のステータスがFromStatusの場合に限りステータスを更新する。
// 更新件数が0の場合は他の操作が先にステータスを変更している。
func (q *Queries) UpdateBookingStatus(ctx context.Context, arg UpdateBookingStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateBookingStatus,
		arg.Status,
		arg.UpdatedAt,
		arg.ID,
		arg.FromStatus,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
