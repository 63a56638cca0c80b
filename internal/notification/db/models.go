package notificationdb

import (
	"time"
)

// Notification は notifications テーブルの1行。
type Notification struct {
	ID        string
	UserID    string
	SenderID  string
	Title     string
	Message   string
	Type      string
	IsRead    int64
	Link      string
	RelatedID string
	CreatedAt time.Time
}
