package trainingdb

import (
	"database/sql"
	"time"
)

// Training は trainings テーブルの1行。
type Training struct {
	ID          string
	Title       string
	Description string
	ContentURL  string
	Category    string
	AuthorID    string
	Published   int64
	PublishedAt sql.NullTime
	CreatedAt   time.Time
}
