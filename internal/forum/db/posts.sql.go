package forumdb

import (
	"context"
	"time"
)

const postColumns = `id, author_id, title, content, category, like_count, comment_count, created_at, updated_at`

func scanPost(row interface{ Scan(...interface{}) error }) (ForumPost, error) {
	var i ForumPost
	err := row.Scan(
		&i.ID,
		&i.AuthorID,
		&i.Title,
		&i.Content,
		&i.Category,
		&i.LikeCount,
		&i.CommentCount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPost = `-- name: CreatePost :exec
INSERT INTO forum_posts (id, author_id, title, content, category, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

type CreatePostParams struct {
	ID        string
	AuthorID  string
	Title     string
	Content   string
	Category  string
	CreatedAt time.Time
}

func (q *Queries) CreatePost(ctx context.Context, arg CreatePostParams) error {
	_, err := q.db.ExecContext(ctx, createPost,
		arg.ID,
		arg.AuthorID,
		arg.Title,
		arg.Content,
		arg.Category,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getPostByID = `-- name: GetPostByID :one
SELECT ` + postColumns + `
FROM forum_posts
WHERE id = ?`

func (q *Queries) GetPostByID(ctx context.Context, id string) (ForumPost, error) {
	row := q.db.QueryRowContext(ctx, getPostByID, id)
	return scanPost(row)
}

const listPosts = `-- name: ListPosts :many
SELECT ` + postColumns + `
FROM forum_posts
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListPosts(ctx context.Context) ([]ForumPost, error) {
	return q.listPosts(ctx, listPosts)
}

const listPostsByCategory = `-- name: ListPostsByCategory :many
SELECT ` + postColumns + `
FROM forum_posts
WHERE category = ?
ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListPostsByCategory(ctx context.Context, category string) ([]ForumPost, error) {
	return q.listPosts(ctx, listPostsByCategory, category)
}

func (q *Queries) listPosts(ctx context.Context, query string, args ...interface{}) ([]ForumPost, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ForumPost
	for rows.Next() {
		i, err := scanPost(rows)
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

const deletePost = `-- name: DeletePost :exec
DELETE FROM forum_posts
WHERE id = ?`

func (q *Queries) DeletePost(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deletePost, id)
	return err
}

const incrementCommentCount = `-- name: IncrementCommentCount :exec
UPDATE forum_posts SET comment_count = comment_count + 1
WHERE id = ?`

func (q *Queries) IncrementCommentCount(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, incrementCommentCount, id)
	return err
}

const addLikeCount = `-- name: AddLikeCount :one
UPDATE forum_posts SET like_count = like_count + ?
WHERE id = ?
RETURNING like_count`

// AddLikeCount はいいね数にdeltaを加え、更新後のいいね数を返す。
func (q *Queries) AddLikeCount(ctx context.Context, delta int64, id string) (int64, error) {
	row := q.db.QueryRowContext(ctx, addLikeCount, delta, id)
	var likeCount int64
	err := row.Scan(&likeCount)
	return likeCount, err
}
