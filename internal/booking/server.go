package booking

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

	bookingdb "github.com/nao1215/ichiba/internal/booking/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/nao1215/ichiba/pkg/notify"
)

// serviceName はサービス名。
const serviceName = "booking"

// Server はサービス予約のHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries は予約テーブルへのクエリ実行オブジェクト。
	queries *bookingdb.Queries
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

// NewServer は新しい予約サーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	s := &Server{
		router:    httpserver.NewRouter(serviceName),
		port:      cfg.Port,
		queries:   bookingdb.New(sqlDB),
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
		bookings := api.Group("/bookings")
		{
			// 予約の作成
			bookings.POST("", s.handleCreate())
			// 自分が関わる予約の一覧
			bookings.GET("/my-bookings", s.handleListMine())
			// 予約の詳細
			bookings.GET("/:id", s.handleGet())
			// 予約ステータスの更新（出品者のみ）
			bookings.PUT("/:id/status", s.handleUpdateStatus())
		}
	}
}

// bookingResponse は予約のJSONレスポンス構造。
type bookingResponse struct {
	ID          string  `json:"id"`
	BuyerID     string  `json:"buyer_id"`
	SellerID    string  `json:"seller_id"`
	ServiceType string  `json:"service_type"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toBookingResponse(b bookingdb.Booking) bookingResponse {
	return bookingResponse{
		ID:          b.ID,
		BuyerID:     b.BuyerID,
		SellerID:    b.SellerID,
		ServiceType: b.ServiceType,
		Description: b.Description,
		Amount:      b.Amount,
		Status:      b.Status,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// createRequest は予約作成リクエストのJSON構造。
type createRequest struct {
	// SellerID はサービスを提供する出品者のユーザーID。
	SellerID string `json:"seller_id" binding:"required"`
	// ServiceType はサービスの種類。
	ServiceType string `json:"service_type" binding:"required"`
	// Description は依頼内容。
	Description string `json:"description"`
	// Amount は金額。
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// handleCreate は購入者が予約を作成するハンドラ。保存後に出品者へ通知する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		buyerID := middleware.GetUserID(c)
		if buyerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.SellerID == buyerID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "自分のサービスは予約できません"})
			return
		}

		now := s.now().UTC()
		b := bookingdb.Booking{
			ID:          uuid.New().String(),
			BuyerID:     buyerID,
			SellerID:    req.SellerID,
			ServiceType: req.ServiceType,
			Description: req.Description,
			Amount:      req.Amount,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		ctx := c.Request.Context()
		if err := s.queries.CreateBooking(ctx, bookingdb.CreateBookingParams{
			ID:          b.ID,
			BuyerID:     b.BuyerID,
			SellerID:    b.SellerID,
			ServiceType: b.ServiceType,
			Description: b.Description,
			Amount:      b.Amount,
			CreatedAt:   b.CreatedAt,
		}); err != nil {
			s.log.WithError(err).Error("予約の作成に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の作成に失敗しました"})
			return
		}

		ctx = httpclient.WithUserID(ctx, buyerID)
		s.notifier.Emit(ctx, notify.Notification{
			RecipientID: b.SellerID,
			SenderID:    buyerID,
			Title:       "新しい予約リクエスト",
			Message:     fmt.Sprintf("%sの予約リクエストが届きました。", b.ServiceType),
			Type:        notify.TypeBooking,
			Link:        bookingLink(b.ID),
			RelatedID:   b.ID,
		})
		s.events.Record(ctx, b.ID, event.AggregateTypeBooking, event.TypeBookingCreated, event.BookingCreatedData{
			BuyerID:     b.BuyerID,
			SellerID:    b.SellerID,
			ServiceType: b.ServiceType,
			Amount:      b.Amount,
		})

		c.JSON(http.StatusCreated, toBookingResponse(b))
	}
}

// handleListMine は呼び出し元が関わる予約を新しい順に返すハンドラ。
// roleにbuyerまたはsellerを指定すると、その立場の予約だけに絞り込む。
func (s *Server) handleListMine() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		var (
			bookings []bookingdb.Booking
			err      error
		)
		switch role := c.Query("role"); role {
		case "buyer":
			bookings, err = s.queries.ListBookingsByBuyerID(ctx, userID)
		case "seller":
			bookings, err = s.queries.ListBookingsBySellerID(ctx, userID)
		case "":
			bookings, err = s.queries.ListBookingsByParticipant(ctx, userID)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("roleが不正です: %s", role)})
			return
		}
		if err != nil {
			s.log.WithError(err).Error("予約一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約一覧の取得に失敗しました"})
			return
		}

		responses := make([]bookingResponse, 0, len(bookings))
		for _, b := range bookings {
			responses = append(responses, toBookingResponse(b))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// loadBooking はパスパラメータの予約を取得する。失敗時はレスポンスを書き込みfalseを返す。
func (s *Server) loadBooking(c *gin.Context) (bookingdb.Booking, bool) {
	b, err := s.queries.GetBookingByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "予約が見つかりません"})
		return bookingdb.Booking{}, false
	}
	if err != nil {
		s.log.WithError(err).Error("予約の取得に失敗しました")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "予約の取得に失敗しました"})
		return bookingdb.Booking{}, false
	}
	return b, true
}

// handleGet は予約の当事者（購入者または出品者）に予約の詳細を返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		b, ok := s.loadBooking(c)
		if !ok {
			return
		}
		if b.BuyerID != userID && b.SellerID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この予約を閲覧する権限がありません"})
			return
		}

		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// updateStatusRequest はステータス更新リクエストのJSON構造。
type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// handleUpdateStatus は出品者が予約ステータスを進めるハンドラ。
// 更新後、購入者にサービス種類と新しいステータスを含む通知を1件送る。
func (s *Server) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		b, ok := s.loadBooking(c)
		if !ok {
			return
		}
		if b.SellerID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "予約ステータスを変更できるのは出品者のみです"})
			return
		}

		switch err := validateTransition(b.Status, req.Status); {
		case errors.Is(err, ErrUnknownStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %s", err, req.Status)})
			return
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("%s: %s → %s", err, b.Status, req.Status)})
			return
		}

		ctx := c.Request.Context()
		now := s.now().UTC()
		rows, err := s.queries.UpdateBookingStatus(ctx, bookingdb.UpdateBookingStatusParams{
			Status:     req.Status,
			UpdatedAt:  now,
			ID:         b.ID,
			FromStatus: b.Status,
		})
		if err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Error("予約ステータスの更新に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "予約ステータスの更新に失敗しました"})
			return
		}
		if rows == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "予約ステータスが他の操作で変更されました"})
			return
		}

		from := b.Status
		b.Status = req.Status
		b.UpdatedAt = now

		ctx = httpclient.WithUserID(ctx, userID)
		s.notifier.Emit(ctx, notify.Notification{
			RecipientID: b.BuyerID,
			SenderID:    userID,
			Title:       "予約ステータスが更新されました",
			Message:     fmt.Sprintf("%sの予約ステータスが%sに更新されました。", b.ServiceType, b.Status),
			Type:        notify.TypeBooking,
			Link:        bookingLink(b.ID),
			RelatedID:   b.ID,
		})
		s.events.Record(ctx, b.ID, event.AggregateTypeBooking, event.TypeBookingStatusChanged, event.BookingStatusChangedData{
			ActorID: userID,
			From:    from,
			To:      b.Status,
		})

		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// bookingLink は予約詳細画面へのパスを返す。
func bookingLink(id string) string {
	return fmt.Sprintf("/bookings/%s", id)
}
