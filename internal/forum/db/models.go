package forumdb

import (
	"time"
)

// ForumPost は forum_posts テーブルの1行。
type ForumPost struct {
	ID           string
	AuthorID     string
	Title        string
	Content      string
	Category     string
	LikeCount    int64
	CommentCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ForumComment は forum_comments テーブルの1行。
type ForumComment struct {
	ID        string
	PostID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}
