package eventstoredb

import (
	"time"
)

// Event は events テーブルの1行。
type Event struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Data          string
	Version       int64
	CreatedAt     time.Time
}
