package microfinance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	microfinancedb "github.com/nao1215/ichiba/internal/microfinance/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/nao1215/ichiba/pkg/notify"
)

// serviceName はサービス名。
const serviceName = "microfinance"

// waitingMessage は申請受付時にクライアントへ返すメッセージ。
const waitingMessage = "ローン申請を受け付けました。審査結果は通知でお知らせします。"

// Server はマイクロファイナンスサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はローン関連テーブルへのクエリ実行オブジェクト。
	queries *microfinancedb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// scheduler は審査タスクの登録を行う。
	scheduler *Scheduler
	// worker は期日到来した審査タスクを処理する。
	worker *Worker
	// events はEvent Storeへのイベント記録クライアント。
	events *event.Recorder
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// defaultInterestRate は金利未指定時の年利（%）。
	defaultInterestRate float64
	// now は現在時刻を返す。
	now func() time.Time
	// log はサービスのロガー。
	log *logrus.Entry
}

// NewServer は新しいマイクロファイナンスサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	events := event.NewRecorder(httpclient.New(cfg.Services.EventStore))
	notifier := notify.NewHTTPEmitter(cfg.Services.Notification, cfg.Internal.Token)

	s := &Server{
		router:              httpserver.NewRouter(serviceName),
		port:                cfg.Port,
		queries:             microfinancedb.New(sqlDB),
		db:                  sqlDB,
		scheduler:           NewScheduler(cfg.Loan.DecisionDelay),
		worker:              NewWorker(sqlDB, NewBernoulliDecider(cfg.Loan.ApprovalProbability), notifier, events, cfg.Loan.PollInterval, cfg.Loan.BatchSize),
		events:              events,
		jwtSecret:           cfg.JWT.Secret,
		defaultInterestRate: cfg.Loan.DefaultInterestRate,
		now:                 time.Now,
		log:                 logger.ForService(serviceName),
	}
	s.setupRoutes()
	return s, nil
}

// Run は審査ワーカーとHTTPサーバーを起動し、ctxがキャンセルされるまで待機する。
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.worker.Run(ctx)
	}()

	err := httpserver.Serve(ctx, s.port, s.router)
	cancel()
	wg.Wait()
	return err
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
		loans := api.Group("/loans")
		{
			// ローン申請
			loans.POST("", s.handleApply())
			// 自分の申請一覧
			loans.GET("/my-loans", s.handleListMyLoans())
			// 提携金融機関一覧
			loans.GET("/providers", s.handleListProviders())
			// 申請詳細
			loans.GET("/:id", s.handleGetLoan())
		}
	}
}

// loanResponse はローン申請のJSONレスポンス構造。
type loanResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	ProviderName    string  `json:"provider_name"`
	Amount          float64 `json:"amount"`
	Purpose         string  `json:"purpose"`
	Status          string  `json:"status"`
	InterestRate    float64 `json:"interest_rate"`
	RejectionReason string  `json:"rejection_reason"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// toLoanResponse はDB行をJSONレスポンスに変換する。
func toLoanResponse(l microfinancedb.Loan) loanResponse {
	return loanResponse{
		ID:              l.ID,
		UserID:          l.UserID,
		ProviderName:    l.ProviderName,
		Amount:          l.Amount,
		Purpose:         l.Purpose,
		Status:          l.Status,
		InterestRate:    l.InterestRate,
		RejectionReason: l.RejectionReason,
		CreatedAt:       l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// applyRequest はローン申請リクエストのJSON構造。
type applyRequest struct {
	// ProviderName は申請先の提携金融機関名。
	ProviderName string `json:"provider_name" binding:"required"`
	// Amount は申請金額。0より大きいこと。
	Amount float64 `json:"amount" binding:"required,gt=0"`
	// Purpose は資金使途。
	Purpose string `json:"purpose" binding:"required"`
	// InterestRate は年利（%）。省略時は既定値。
	InterestRate *float64 `json:"interest_rate" binding:"omitempty,gte=0"`
}

// handleApply はローン申請を受け付けるハンドラ。
// 申請と審査タスクを同じトランザクションで保存し、審査結果を待たずに201を返す。
func (s *Server) handleApply() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req applyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		rate := s.defaultInterestRate
		if req.InterestRate != nil {
			rate = *req.InterestRate
		}

		now := s.now().UTC()
		loan := microfinancedb.Loan{
			ID:           uuid.New().String(),
			UserID:       userID,
			ProviderName: req.ProviderName,
			Amount:       req.Amount,
			Purpose:      req.Purpose,
			Status:       StatusPending,
			InterestRate: rate,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		ctx := c.Request.Context()
		dueAt, err := s.createLoan(ctx, loan)
		if err != nil {
			s.log.WithError(err).Error("ローン申請の保存に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ローン申請の保存に失敗しました"})
			return
		}

		ctx = httpclient.WithUserID(ctx, userID)
		s.events.Record(ctx, loan.ID, event.AggregateTypeLoan, event.TypeLoanApplied, event.LoanAppliedData{
			UserID:        userID,
			ProviderName:  loan.ProviderName,
			Amount:        loan.Amount,
			Purpose:       loan.Purpose,
			DecisionDueAt: dueAt.Format(time.RFC3339),
		})

		c.JSON(http.StatusCreated, gin.H{
			"loan":    toLoanResponse(loan),
			"message": waitingMessage,
		})
	}
}

// createLoan はローン申請と審査タスクを1つのトランザクションで保存し、審査予定日時を返す。
func (s *Server) createLoan(ctx context.Context, loan microfinancedb.Loan) (time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.queries.WithTx(tx).CreateLoan(ctx, microfinancedb.CreateLoanParams{
		ID:           loan.ID,
		UserID:       loan.UserID,
		ProviderName: loan.ProviderName,
		Amount:       loan.Amount,
		Purpose:      loan.Purpose,
		InterestRate: loan.InterestRate,
		CreatedAt:    loan.CreatedAt,
	}); err != nil {
		return time.Time{}, fmt.Errorf("ローン申請の作成に失敗: %w", err)
	}

	dueAt, err := s.scheduler.Schedule(ctx, tx, loan.ID, loan.UserID, loan.ProviderName)
	if err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return dueAt, nil
}

// handleListMyLoans は認証済みユーザーのローン申請一覧を新しい順に返すハンドラ。
func (s *Server) handleListMyLoans() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		loans, err := s.queries.ListLoansByUserID(c.Request.Context(), userID)
		if err != nil {
			s.log.WithError(err).Error("ローン申請一覧の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ローン申請一覧の取得に失敗しました"})
			return
		}

		responses := make([]loanResponse, 0, len(loans))
		for _, l := range loans {
			responses = append(responses, toLoanResponse(l))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGetLoan は申請者本人にローン申請の詳細を返すハンドラ。
func (s *Server) handleGetLoan() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		loan, err := s.queries.GetLoanByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ローン申請が見つかりません"})
			return
		}
		if err != nil {
			s.log.WithError(err).Error("ローン申請の取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ローン申請の取得に失敗しました"})
			return
		}

		if loan.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "このローン申請を閲覧する権限がありません"})
			return
		}

		c.JSON(http.StatusOK, toLoanResponse(loan))
	}
}

// provider は提携金融機関の情報。
type provider struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	MinAmount    float64 `json:"min_amount"`
	MaxAmount    float64 `json:"max_amount"`
	InterestRate float64 `json:"interest_rate"`
}

// providers は提携金融機関の一覧。
var providers = []provider{
	{Name: "TestBank", Description: "小規模事業者向けの少額融資", MinAmount: 1000, MaxAmount: 50000, InterestRate: 12.5},
	{Name: "Community Credit Union", Description: "地域の組合員向け協同融資", MinAmount: 500, MaxAmount: 20000, InterestRate: 9.8},
	{Name: "Village Microfund", Description: "農業・手工業向けのマイクロクレジット", MinAmount: 100, MaxAmount: 5000, InterestRate: 15.0},
}

// handleListProviders は提携金融機関の一覧を返すハンドラ。
func (s *Server) handleListProviders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, providers)
	}
}
