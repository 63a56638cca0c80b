package gatewaydb

import (
	"time"
)

// User は users テーブルの1行。
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
	LastLoginAt time.Time
}
