package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	notificationdb "github.com/nao1215/ichiba/internal/notification/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/nao1215/ichiba/pkg/notify"
)

// serviceName はサービス名。
const serviceName = "notification"

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries は通知テーブルへのクエリ実行オブジェクト。
	queries *notificationdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// redis は未読件数キャッシュ用のRedisクライアント。未設定の場合はnil。
	redis *redis.Client
	// cache は未読件数キャッシュ。Redis未設定の場合はnil。
	cache *unreadCache
	// events はEvent Storeへのイベント記録クライアント。
	events *event.Recorder
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// internalToken は内部APIの共有トークン。
	internalToken string
	// now は現在時刻を返す。
	now func() time.Time
	// log はサービスのロガー。
	log *logrus.Entry
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とマイグレーションを行い、Redisが設定されていれば接続する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	s := &Server{
		router:        httpserver.NewRouter(serviceName),
		port:          cfg.Port,
		queries:       notificationdb.New(sqlDB),
		db:            sqlDB,
		events:        event.NewRecorder(httpclient.New(cfg.Services.EventStore)),
		jwtSecret:     cfg.JWT.Secret,
		internalToken: cfg.Internal.Token,
		now:           time.Now,
		log:           logger.ForService(serviceName),
	}

	if cfg.Redis.Addr != "" {
		client, err := newRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		s.redis = client
		s.cache = newUnreadCache(client, cfg.Redis.CacheTTL)
	}

	s.setupRoutes()
	return s, nil
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで待機する。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Serve(ctx, s.port, s.router)
}

// Close はデータベースとRedisの接続を閉じる。
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読件数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 通知の削除
			notifications.DELETE("/:id", s.handleDelete())
		}
	}

	// 通知作成（内部API - 各業務サービスから呼び出される）
	internal := s.router.Group("/internal")
	internal.Use(middleware.InternalAuth(s.internalToken))
	{
		internal.POST("/notifications", s.handleCreate())
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// SenderID は通知のきっかけとなったユーザーのID。
	SenderID string `json:"sender_id,omitempty"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Type は通知の種類。
	Type string `json:"type"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// Link はクライアントでの遷移先パス。
	Link string `json:"link,omitempty"`
	// RelatedID は通知に関連するエンティティのID。
	RelatedID string `json:"related_id,omitempty"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n notificationdb.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		SenderID:  n.SenderID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		IsRead:    n.IsRead != 0,
		Link:      n.Link,
		RelatedID: n.RelatedID,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []notificationdb.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.queries.ListNotificationsByUserID(c.Request.Context(), userID)
		if err != nil {
			s.log.WithError(err).Error("通知一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を新しい順に返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.queries.ListUnreadNotifications(c.Request.Context(), userID)
		if err != nil {
			s.log.WithError(err).Error("未読通知一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleUnreadCount は認証済みユーザーの未読件数を返すハンドラ。
// キャッシュがあればそれを返し、なければSQLiteで数えてキャッシュする。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		if count, ok := s.cache.get(ctx, userID); ok {
			c.JSON(http.StatusOK, gin.H{"count": count})
			return
		}

		gen := s.cache.generation(ctx, userID)
		count, err := s.queries.CountUnreadNotifications(ctx, userID)
		if err != nil {
			s.log.WithError(err).Error("未読件数の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			return
		}
		s.cache.set(ctx, userID, count, gen)

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// loadOwned は通知を取得し、呼び出し元が受信者であることを確認する。
// 失敗した場合はレスポンスを書き込み、falseを返す。
func (s *Server) loadOwned(c *gin.Context, userID string) (notificationdb.Notification, bool) {
	notificationID := c.Param("id")
	if notificationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
		return notificationdb.Notification{}, false
	}

	n, err := s.queries.GetNotificationByID(c.Request.Context(), notificationID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
		return notificationdb.Notification{}, false
	}
	if err != nil {
		s.log.WithError(err).Error("通知の取得に失敗しました")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
		return notificationdb.Notification{}, false
	}

	if n.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
		return notificationdb.Notification{}, false
	}
	return n, true
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 既読の通知に対しては何も変更せず成功を返す。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, ok := s.loadOwned(c, userID)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		if _, err := s.queries.MarkAsRead(ctx, n.ID); err != nil {
			s.log.WithError(err).WithField("notification_id", n.ID).Error("通知の既読処理に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			return
		}
		s.cache.invalidate(ctx, userID)

		n.IsRead = 1
		c.JSON(http.StatusOK, toNotificationResponse(n))
	}
}

// handleMarkAllAsRead は認証済みユーザーの未読通知をすべて既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		updated, err := s.queries.MarkAllAsRead(ctx, userID)
		if err != nil {
			s.log.WithError(err).Error("全通知の既読処理に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}
		s.cache.invalidate(ctx, userID)

		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// handleDelete は受信者が通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, ok := s.loadOwned(c, userID)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		if _, err := s.queries.DeleteNotification(ctx, n.ID, userID); err != nil {
			s.log.WithError(err).WithField("notification_id", n.ID).Error("通知の削除に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の削除に失敗しました"})
			return
		}
		s.cache.invalidate(ctx, userID)

		c.Status(http.StatusNoContent)
	}
}

// createRequest は通知作成リクエストのJSON構造。notify.Notificationと同じ形。
type createRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// SenderID は通知のきっかけとなったユーザーのID。
	SenderID string `json:"sender_id"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Type は通知の種類。
	Type string `json:"type" binding:"required"`
	// Link はクライアントでの遷移先パス。
	Link string `json:"link"`
	// RelatedID は通知に関連するエンティティのID。
	RelatedID string `json:"related_id"`
}

// handleCreate は通知を作成しNotificationSentイベントを記録するハンドラ。
// 内部API（各業務サービスの通知エミッタから呼び出される）。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !notify.Type(req.Type).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("通知の種類が不正です: %s", req.Type)})
			return
		}

		ctx := c.Request.Context()
		n := notificationdb.Notification{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			SenderID:  req.SenderID,
			Title:     req.Title,
			Message:   req.Message,
			Type:      req.Type,
			Link:      req.Link,
			RelatedID: req.RelatedID,
			CreatedAt: s.now().UTC(),
		}
		if err := s.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
			ID:        n.ID,
			UserID:    n.UserID,
			SenderID:  n.SenderID,
			Title:     n.Title,
			Message:   n.Message,
			Type:      n.Type,
			Link:      n.Link,
			RelatedID: n.RelatedID,
			CreatedAt: n.CreatedAt,
		}); err != nil {
			s.log.WithError(err).Error("通知の作成に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			return
		}
		s.cache.invalidate(ctx, n.UserID)

		s.events.Record(ctx, n.ID, event.AggregateTypeNotification, event.TypeNotificationSent, event.NotificationSentData{
			UserID:           n.UserID,
			SenderID:         n.SenderID,
			NotificationType: n.Type,
			RelatedID:        n.RelatedID,
		})

		c.JSON(http.StatusCreated, toNotificationResponse(n))
	}
}
