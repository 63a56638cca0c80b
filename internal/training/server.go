package training

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

	trainingdb "github.com/nao1215/ichiba/internal/training/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/middleware"
)

// serviceName はサービス名。
const serviceName = "training"

// defaultCategory はカテゴリ未指定時の研修カテゴリ。
const defaultCategory = "general"

// Server は研修コンテンツのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries は研修テーブルへのクエリ実行オブジェクト。
	queries *trainingdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// events はEvent Storeへのイベント記録クライアント。
	events *event.Recorder
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// now は現在時刻を返す。
	now func() time.Time
	// log はサービスのロガー。
	log *logrus.Entry
}

// NewServer は新しい研修コンテンツサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	s := &Server{
		router:    httpserver.NewRouter(serviceName),
		port:      cfg.Port,
		queries:   trainingdb.New(sqlDB),
		db:        sqlDB,
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
// 公開済み研修の閲覧は認証不要、作成と公開は管理者のみ。
func (s *Server) setupRoutes() {
	public := s.router.Group("/api/v1/trainings")
	{
		public.GET("", s.handleListPublished())
		public.GET("/:id", s.handleGetPublished())
	}

	admin := s.router.Group("/api/v1/trainings")
	admin.Use(middleware.JWTAuth(s.jwtSecret), middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("", s.handleCreate())
		admin.GET("/drafts", s.handleListDrafts())
		admin.PUT("/:id/publish", s.handlePublish())
	}
}

// trainingResponse は研修のJSONレスポンス構造。
type trainingResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ContentURL  string  `json:"content_url"`
	Category    string  `json:"category"`
	AuthorID    string  `json:"author_id"`
	Published   bool    `json:"published"`
	PublishedAt *string `json:"published_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toResponse(t trainingdb.Training) trainingResponse {
	resp := trainingResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		ContentURL:  t.ContentURL,
		Category:    t.Category,
		AuthorID:    t.AuthorID,
		Published:   t.Published == 1,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.PublishedAt.Valid {
		publishedAt := t.PublishedAt.Time.UTC().Format(time.RFC3339)
		resp.PublishedAt = &publishedAt
	}
	return resp
}

func toResponses(items []trainingdb.Training) []trainingResponse {
	responses := make([]trainingResponse, 0, len(items))
	for _, t := range items {
		responses = append(responses, toResponse(t))
	}
	return responses
}

// handleListPublished は公開済みの研修を新しい順に返すハンドラ。categoryで絞り込める。
func (s *Server) handleListPublished() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			items []trainingdb.Training
			err   error
		)
		if category := c.Query("category"); category != "" {
			items, err = s.queries.ListPublishedTrainingsByCategory(ctx, category)
		} else {
			items, err = s.queries.ListPublishedTrainings(ctx)
		}
		if err != nil {
			s.log.WithError(err).Error("研修一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "研修一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toResponses(items))
	}
}

// handleGetPublished は公開済みの研修を返すハンドラ。下書きは存在しないものとして扱う。
func (s *Server) handleGetPublished() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := s.queries.GetPublishedTraining(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "研修が見つかりません"})
			return
		}
		if err != nil {
			s.log.WithError(err).Error("研修の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "研修の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toResponse(t))
	}
}

// createRequest は研修作成リクエストのJSON構造。
type createRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	ContentURL  string `json:"content_url" binding:"omitempty,url"`
	Category    string `json:"category"`
}

// handleCreate は研修を下書きとして作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Category == "" {
			req.Category = defaultCategory
		}

		t := trainingdb.Training{
			ID:          uuid.New().String(),
			Title:       req.Title,
			Description: req.Description,
			ContentURL:  req.ContentURL,
			Category:    req.Category,
			AuthorID:    middleware.GetUserID(c),
			CreatedAt:   s.now().UTC(),
		}
		if err := s.queries.CreateTraining(c.Request.Context(), trainingdb.CreateTrainingParams{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			ContentURL:  t.ContentURL,
			Category:    t.Category,
			AuthorID:    t.AuthorID,
			CreatedAt:   t.CreatedAt,
		}); err != nil {
			s.log.WithError(err).Error("研修の作成に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "研修の作成に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, toResponse(t))
	}
}

// handleListDrafts は未公開の研修を返すハンドラ。
func (s *Server) handleListDrafts() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.queries.ListDraftTrainings(c.Request.Context())
		if err != nil {
			s.log.WithError(err).Error("下書き一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "下書き一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toResponses(items))
	}
}

// handlePublish は下書きの研修を公開するハンドラ。公開済みの研修に対しては何もせず現在の状態を返す。
func (s *Server) handlePublish() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		rows, err := s.queries.PublishTraining(ctx, s.now().UTC(), id)
		if err != nil {
			s.log.WithError(err).WithField("training_id", id).Error("研修の公開に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "研修の公開に失敗しました"})
			return
		}

		t, err := s.queries.GetTrainingByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "研修が見つかりません"})
			return
		}
		if err != nil {
			s.log.WithError(err).WithField("training_id", id).Error("研修の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "研修の取得に失敗しました"})
			return
		}

		if rows == 1 {
			s.log.WithField("training_id", id).Info("研修を公開しました")
			ctx = httpclient.WithUserID(ctx, middleware.GetUserID(c))
			s.events.Record(ctx, t.ID, event.AggregateTypeTraining, event.TypeTrainingPublished, event.TrainingPublishedData{
				Title:    t.Title,
				Category: t.Category,
			})
		}
		c.JSON(http.StatusOK, toResponse(t))
	}
}
