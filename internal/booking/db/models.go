package bookingdb

import (
	"time"
)

// Booking は bookings テーブルの1行。
type Booking struct {
	ID          string
	BuyerID     string
	SellerID    string
	ServiceType string
	Description string
	Amount      float64
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
