package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	gatewaydb "github.com/nao1215/ichiba/internal/gateway/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/middleware"
)

// serviceName はサービス名。
const serviceName = "gateway"

// proxyTimeout は内部サービスへの転送のタイムアウト。
const proxyTimeout = 30 * time.Second

const (
	devEmail       = "dev@localhost"
	devDisplayName = "開発ユーザー"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *gatewaydb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// services は内部サービスのURL。
	services config.ServiceURLs
	// client は内部サービスへの転送に使うHTTPクライアント。
	client *http.Client
	now    func() time.Time
	log    *logrus.Entry
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	router := httpserver.NewRouter(serviceName)
	router.Use(middleware.CORS([]string{cfg.Frontend.URL}))

	s := &Server{
		router:    router,
		port:      cfg.Port,
		queries:   gatewaydb.New(sqlDB),
		db:        sqlDB,
		jwtSecret: cfg.JWT.Secret,
		services:  cfg.Services,
		client:    &http.Client{Timeout: proxyTimeout},
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
// 内部サービスと同じパスで転送する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/auth")
	{
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// 公開済み研修の閲覧（認証不要）
	s.router.GET("/api/v1/trainings", s.handleProxy(s.services.Training))
	s.router.GET("/api/v1/trainings/:id", s.handleProxy(s.services.Training))

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// ユーザー情報
		api.GET("/me", s.handleGetCurrentUser())

		// 通知
		notification := s.handleProxy(s.services.Notification)
		api.GET("/notifications", notification)
		api.GET("/notifications/unread", notification)
		api.GET("/notifications/unread-count", notification)
		api.PUT("/notifications/read-all", notification)
		api.PUT("/notifications/:id/read", notification)
		api.DELETE("/notifications/:id", notification)

		// マイクロファイナンス
		microfinance := s.handleProxy(s.services.Microfinance)
		api.POST("/loans", microfinance)
		api.GET("/loans/my-loans", microfinance)
		api.GET("/loans/providers", microfinance)
		api.GET("/loans/:id", microfinance)

		// サービス予約
		booking := s.handleProxy(s.services.Booking)
		api.POST("/bookings", booking)
		api.GET("/bookings/my-bookings", booking)
		api.GET("/bookings/:id", booking)
		api.PUT("/bookings/:id/status", booking)

		// フォーラム
		forum := s.handleProxy(s.services.Forum)
		api.POST("/forum/posts", forum)
		api.GET("/forum/posts", forum)
		api.GET("/forum/posts/:id", forum)
		api.DELETE("/forum/posts/:id", forum)
		api.POST("/forum/posts/:id/comments", forum)
		api.PUT("/forum/posts/:id/like", forum)

		// 研修コンテンツの管理（管理者のみ）
		training := s.handleProxy(s.services.Training)
		admin := api.Group("", middleware.RequireRole(middleware.RoleAdmin))
		admin.POST("/trainings", training)
		admin.GET("/trainings/drafts", training)
		admin.PUT("/trainings/:id/publish", training)

		// イベントログ（管理者のみ）
		admin.GET("/events", s.handleProxy(s.services.EventStore))
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。すべて省略可能。
type devTokenRequest struct {
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" binding:"omitempty,oneof=user admin"`
}

// userResponse はユーザー情報のJSONレスポンス構造。
type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at"`
	LastLoginAt string `json:"last_login_at"`
}

func toUserResponse(u gatewaydb.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
		LastLoginAt: u.LastLoginAt.UTC().Format(time.RFC3339),
	}
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// メールアドレスでユーザーを登録または更新する。本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}
		if req.Email == "" {
			req.Email = devEmail
		}

		user, err := s.upsertUser(c.Request.Context(), req)
		if err != nil {
			s.log.WithError(err).WithField("email", req.Email).Error("開発ユーザーの登録に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの登録に失敗しました"})
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email, user.Role)
		if err != nil {
			s.log.WithError(err).Error("JWTの生成に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
			"role":    user.Role,
		})
	}
}

// upsertUser はメールアドレスでユーザーを検索し、存在しなければ作成、存在すればログイン日時を更新する。
func (s *Server) upsertUser(ctx context.Context, req devTokenRequest) (gatewaydb.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gatewaydb.User{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := s.queries.WithTx(tx)
	now := s.now().UTC()

	existing, err := qtx.GetUserByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		params := gatewaydb.CreateUserParams{
			ID:          uuid.New().String(),
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Role:        req.Role,
			CreatedAt:   now,
		}
		if params.DisplayName == "" {
			params.DisplayName = devDisplayName
		}
		if params.Role == "" {
			params.Role = middleware.RoleUser
		}
		if err := qtx.CreateUser(ctx, params); err != nil {
			return gatewaydb.User{}, fmt.Errorf("ユーザーの作成に失敗: %w", err)
		}
		existing.ID = params.ID
	case err != nil:
		return gatewaydb.User{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	default:
		if err := qtx.RecordLogin(ctx, gatewaydb.RecordLoginParams{
			DisplayName: req.DisplayName,
			Role:        req.Role,
			LastLoginAt: now,
			ID:          existing.ID,
		}); err != nil {
			return gatewaydb.User{}, fmt.Errorf("ログイン日時の更新に失敗: %w", err)
		}
	}

	user, err := qtx.GetUserByID(ctx, existing.ID)
	if err != nil {
		return gatewaydb.User{}, fmt.Errorf("ユーザーの再取得に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return gatewaydb.User{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return user, nil
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			s.log.WithError(err).Error("ユーザーの取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toUserResponse(user))
	}
}

// handleProxy は受け取ったパスとクエリのまま指定サービスに転送するハンドラを返す。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, proxyURL)
	}
}

// doProxy はリクエストを内部サービスに転送する共通処理。
// JWTトークンとユーザーIDヘッダーを転送し、レスポンスはステータスとボディをそのまま返す。
func (s *Server) doProxy(c *gin.Context, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	if ct := c.GetHeader("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if authz := c.GetHeader("Authorization"); authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if userID := middleware.GetUserID(c); userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).WithField("url", url).Warn("内部サービスへの転送に失敗しました")
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	if resp.StatusCode == http.StatusNoContent {
		c.Status(http.StatusNoContent)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}
