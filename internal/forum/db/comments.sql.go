package forumdb

import (
	"context"
	"time"
)

const createComment = `-- name: CreateComment :exec
INSERT INTO forum_comments (id, post_id, author_id, content, created_at)
VALUES (?, ?, ?, ?, ?)`

type CreateCommentParams struct {
	ID        string
	PostID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

func (q *Queries) CreateComment(ctx context.Context, arg CreateCommentParams) error {
	_, err := q.db.ExecContext(ctx, createComment,
		arg.ID,
		arg.PostID,
		arg.AuthorID,
		arg.Content,
		arg.CreatedAt,
	)
	return err
}

const listCommentsByPostID = `-- name: ListCommentsByPostID :many
SELECT id, post_id, author_id, content, created_at
FROM forum_comments
WHERE post_id = ?
ORDER BY created_at ASC, rowid ASC`

func (q *Queries) ListCommentsByPostID(ctx context.Context, postID string) ([]ForumComment, error) {
	rows, err := q.db.QueryContext(ctx, listCommentsByPostID, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ForumComment
	for rows.Next() {
		var i ForumComment
		if err := rows.Scan(
			&i.ID,
			&i.PostID,
			&i.AuthorID,
			&i.Content,
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

const deleteCommentsByPostID = `-- name: DeleteCommentsByPostID :exec
DELETE FROM forum_comments
WHERE post_id = ?`

func (q *Queries) DeleteCommentsByPostID(ctx context.Context, postID string) error {
	_, err := q.db.ExecContext(ctx, deleteCommentsByPostID, postID)
	return err
}

const insertLike = `-- name: InsertLike :execrows
INSERT INTO forum_likes (post_id, user_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT (post_id, user_id) DO NOTHING`

// InsertLike はいいねを記録する。既にいいね済みの場合は0件を返す。
func (q *Queries) InsertLike(ctx context.Context, postID, userID string, createdAt time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertLike, postID, userID, createdAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteLike = `-- name: DeleteLike :execrows
DELETE FROM forum_likes
WHERE post_id = ? AND user_id = ?`

// DeleteLike はいいねを取り消す。いいねしていなかった場合は0件を返す。
func (q *Queries) DeleteLike(ctx context.Context, postID, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteLike, postID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteLikesByPostID = `-- name: DeleteLikesByPostID :exec
DELETE FROM forum_likes
WHERE post_id = ?`

func (q *Queries) DeleteLikesByPostID(ctx context.Context, postID string) error {
	_, err := q.db.ExecContext(ctx, deleteLikesByPostID, postID)
	return err
}
