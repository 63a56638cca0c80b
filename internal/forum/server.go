package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	forumdb "github.com/nao1215/ichiba/internal/forum/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/nao1215/ichiba/pkg/notify"
)

// serviceName はサービス名。
const serviceName = "forum"

// defaultCategory はカテゴリ未指定時の投稿カテゴリ。
const defaultCategory = "general"

// errPostNotFound は投稿が存在しないことを表す。
var errPostNotFound = errors.New("投稿が見つかりません")

// Server はフォーラムサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries は投稿・コメント・いいねテーブルへのクエリ実行オブジェクト。
	queries *forumdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// notifier は通知サービスへの通知送信クライアント。
	notifier notify.Emitter
	// events はEvent Storeへのイベント記録クライアント。
	events *event.Recorder
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// now は現在時刻を返す。
	now func() time.Time
	// log はサービスのロガー。
	log *logrus.Entry
}

// NewServer は新しいフォーラムサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	s := &Server{
		router:    httpserver.NewRouter(serviceName),
		port:      cfg.Port,
		queries:   forumdb.New(sqlDB),
		db:        sqlDB,
		notifier:  notify.NewHTTPEmitter(cfg.Services.Notification, cfg.Internal.Token),
		events:    event.NewRecorder(httpclient.New(cfg.Services.EventStore)),
		jwtSecret: cfg.JWT.Secret,
		now:       time.Now,
		log:       logger.ForService(serviceName),
	}
	s.setupRoutes()
	return s, nil
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで待機する。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Serve(ctx, s.port, s.router)
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		posts := api.Group("/forum/posts")
		{
			posts.POST("", s.handleCreatePost())
			posts.GET("", s.handleListPosts())
			posts.GET("/:id", s.handleGetPost())
			posts.DELETE("/:id", s.handleDeletePost())
			posts.POST("/:id/comments", s.handleAddComment())
			posts.PUT("/:id/like", s.handleToggleLike())
		}
	}
}

// postResponse は投稿のJSONレスポンス構造。
type postResponse struct {
	ID           string            `json:"id"`
	AuthorID     string            `json:"author_id"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Category     string            `json:"category"`
	LikeCount    int64             `json:"like_count"`
	CommentCount int64             `json:"comment_count"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	Comments     []commentResponse `json:"comments,omitempty"`
}

// commentResponse はコメントのJSONレスポンス構造。
type commentResponse struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func toPostResponse(p forumdb.ForumPost) postResponse {
	return postResponse{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		Title:        p.Title,
		Content:      p.Content,
		Category:     p.Category,
		LikeCount:    p.LikeCount,
		CommentCount: p.CommentCount,
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toCommentResponse(c forumdb.ForumComment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		PostID:    c.PostID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// createPostRequest は投稿作成リクエストのJSON構造。
type createPostRequest struct {
	Title    string `json:"title" binding:"required"`
	Content  string `json:"content" binding:"required"`
	Category string `json:"category"`
}

// handleCreatePost は投稿を作成するハンドラ。
func (s *Server) handleCreatePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createPostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Category == "" {
			req.Category = defaultCategory
		}

		now := s.now().UTC()
		p := forumdb.ForumPost{
			ID:        uuid.New().String(),
			AuthorID:  userID,
			Title:     req.Title,
			Content:   req.Content,
			Category:  req.Category,
			CreatedAt: now,
			UpdatedAt: now,
		}

		ctx := c.Request.Context()
		if err := s.queries.CreatePost(ctx, forumdb.CreatePostParams{
			ID:        p.ID,
			AuthorID:  p.AuthorID,
			Title:     p.Title,
			Content:   p.Content,
			Category:  p.Category,
			CreatedAt: p.CreatedAt,
		}); err != nil {
			s.log.WithError(err).Error("投稿の作成に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の作成に失敗しました"})
			return
		}

		ctx = httpclient.WithUserID(ctx, userID)
		s.events.Record(ctx, p.ID, event.AggregateTypeForumPost, event.TypeForumPostCreated, event.ForumPostCreatedData{
			AuthorID: p.AuthorID,
			Title:    p.Title,
			Category: p.Category,
		})

		c.JSON(http.StatusCreated, toPostResponse(p))
	}
}

// handleListPosts は投稿を新しい順に返すハンドラ。categoryで絞り込める。
func (s *Server) handleListPosts() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			posts []forumdb.ForumPost
			err   error
		)
		if category := c.Query("category"); category != "" {
			posts, err = s.queries.ListPostsByCategory(ctx, category)
		} else {
			posts, err = s.queries.ListPosts(ctx)
		}
		if err != nil {
			s.log.WithError(err).Error("投稿一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			return
		}

		responses := make([]postResponse, 0, len(posts))
		for _, p := range posts {
			responses = append(responses, toPostResponse(p))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// loadPost はパスパラメータの投稿を取得する。失敗時はレスポンスを書き込みfalseを返す。
func (s *Server) loadPost(c *gin.Context) (forumdb.ForumPost, bool) {
	p, err := s.queries.GetPostByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": errPostNotFound.Error()})
		return forumdb.ForumPost{}, false
	}
	if err != nil {
		s.log.WithError(err).Error("投稿の取得に失敗しました")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
		return forumdb.ForumPost{}, false
	}
	return p, true
}

// handleGetPost は投稿をコメント付きで返すハンドラ。
func (s *Server) handleGetPost() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := s.loadPost(c)
		if !ok {
			return
		}

		comments, err := s.queries.ListCommentsByPostID(c.Request.Context(), p.ID)
		if err != nil {
			s.log.WithError(err).Error("コメントの取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメントの取得に失敗しました"})
			return
		}

		resp := toPostResponse(p)
		resp.Comments = make([]commentResponse, 0, len(comments))
		for _, cm := range comments {
			resp.Comments = append(resp.Comments, toCommentResponse(cm))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleDeletePost は投稿者または管理者が投稿を削除するハンドラ。
// コメントといいねも同じトランザクションで削除する。
func (s *Server) handleDeletePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		p, ok := s.loadPost(c)
		if !ok {
			return
		}
		if p.AuthorID != userID && middleware.GetRole(c) != middleware.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "この投稿を削除する権限がありません"})
			return
		}

		if err := s.deletePost(c.Request.Context(), p.ID); err != nil {
			s.log.WithError(err).WithField("post_id", p.ID).Error("投稿の削除に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の削除に失敗しました"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) deletePost(ctx context.Context, postID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := s.queries.WithTx(tx)
	if err := qtx.DeleteLikesByPostID(ctx, postID); err != nil {
		return fmt.Errorf("いいねの削除に失敗: %w", err)
	}
	if err := qtx.DeleteCommentsByPostID(ctx, postID); err != nil {
		return fmt.Errorf("コメントの削除に失敗: %w", err)
	}
	if err := qtx.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("投稿の削除に失敗: %w", err)
	}
	return tx.Commit()
}

// addCommentRequest はコメント追加リクエストのJSON構造。
type addCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// handleAddComment は投稿にコメントを追加するハンドラ。
// 保存後、コメントした本人が投稿者でなければ投稿者に通知する。
func (s *Server) handleAddComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req addCommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		p, ok := s.loadPost(c)
		if !ok {
			return
		}

		cm := forumdb.ForumComment{
			ID:        uuid.New().String(),
			PostID:    p.ID,
			AuthorID:  userID,
			Content:   req.Content,
			CreatedAt: s.now().UTC(),
		}

		ctx := c.Request.Context()
		if err := s.addComment(ctx, cm); err != nil {
			s.log.WithError(err).WithField("post_id", p.ID).Error("コメントの追加に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメントの追加に失敗しました"})
			return
		}

		ctx = httpclient.WithUserID(ctx, userID)
		s.notifier.Emit(ctx, notify.Notification{
			RecipientID: p.AuthorID,
			SenderID:    userID,
			Title:       "投稿にコメントが付きました",
			Message:     fmt.Sprintf("「%s」に新しいコメントが付きました。", p.Title),
			Type:        notify.TypeForum,
			Link:        postLink(p.ID),
			RelatedID:   p.ID,
		})
		s.events.Record(ctx, p.ID, event.AggregateTypeForumPost, event.TypeForumCommentAdded, event.ForumCommentAddedData{
			CommentID: cm.ID,
			AuthorID:  userID,
		})

		c.JSON(http.StatusCreated, toCommentResponse(cm))
	}
}

func (s *Server) addComment(ctx context.Context, cm forumdb.ForumComment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := s.queries.WithTx(tx)
	if err := qtx.CreateComment(ctx, forumdb.CreateCommentParams{
		ID:        cm.ID,
		PostID:    cm.PostID,
		AuthorID:  cm.AuthorID,
		Content:   cm.Content,
		CreatedAt: cm.CreatedAt,
	}); err != nil {
		return fmt.Errorf("コメントの保存に失敗: %w", err)
	}
	if err := qtx.IncrementCommentCount(ctx, cm.PostID); err != nil {
		return fmt.Errorf("コメント数の更新に失敗: %w", err)
	}
	return tx.Commit()
}

// handleToggleLike は呼び出し元のいいねを切り替えるハンドラ。
// 新しくいいねした場合のみ、本人が投稿者でなければ投稿者に通知する。
func (s *Server) handleToggleLike() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		p, ok := s.loadPost(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		liked, likeCount, err := s.toggleLike(ctx, p.ID, userID)
		if err != nil {
			s.log.WithError(err).WithField("post_id", p.ID).Error("いいねの切り替えに失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "いいねの切り替えに失敗しました"})
			return
		}

		if liked {
			ctx = httpclient.WithUserID(ctx, userID)
			s.notifier.Emit(ctx, notify.Notification{
				RecipientID: p.AuthorID,
				SenderID:    userID,
				Title:       "投稿にいいねが付きました",
				Message:     fmt.Sprintf("「%s」にいいねが付きました。", p.Title),
				Type:        notify.TypeForum,
				Link:        postLink(p.ID),
				RelatedID:   p.ID,
			})
			s.events.Record(ctx, p.ID, event.AggregateTypeForumPost, event.TypeForumPostLiked, event.ForumPostLikedData{
				UserID: userID,
			})
		}

		c.JSON(http.StatusOK, gin.H{"liked": liked, "like_count": likeCount})
	}
}

// toggleLike はいいねを切り替え、切り替え後の状態といいね数を返す。
func (s *Server) toggleLike(ctx context.Context, postID, userID string) (bool, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := s.queries.WithTx(tx)
	removed, err := qtx.DeleteLike(ctx, postID, userID)
	if err != nil {
		return false, 0, fmt.Errorf("いいねの取り消しに失敗: %w", err)
	}

	liked := removed == 0
	delta := int64(-1)
	if liked {
		if _, err := qtx.InsertLike(ctx, postID, userID, s.now().UTC()); err != nil {
			return false, 0, fmt.Errorf("いいねの保存に失敗: %w", err)
		}
		delta = 1
	}

	likeCount, err := qtx.AddLikeCount(ctx, delta, postID)
	if err != nil {
		return false, 0, fmt.Errorf("いいね数の更新に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("コミットに失敗: %w", err)
	}
	return liked, likeCount, nil
}

// postLink は投稿詳細画面へのパスを返す。
func postLink(id string) string {
	return fmt.Sprintf("/forum/posts/%s", id)
}
