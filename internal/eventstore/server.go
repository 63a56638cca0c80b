package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	eventstoredb "github.com/nao1215/ichiba/internal/eventstore/db"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpserver"
	"github.com/nao1215/ichiba/pkg/logger"
)

// serviceName はサービス名。
const serviceName = "eventstore"

// ErrVersionConflict は同じAggregateに同じバージョンのイベントが既に存在することを表す。
var ErrVersionConflict = errors.New("イベントのバージョンが競合しました")

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcで生成されたクエリ。
	queries *eventstoredb.Queries
	// db はデータベース接続。
	db *sql.DB
	// now は現在時刻を返す。
	now func() time.Time
	// log はサービスのロガー。
	log *logrus.Entry
}

// NewServer は新しいイベントストアサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := openDB(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	s := &Server{
		router:  httpserver.NewRouter(serviceName),
		port:    cfg.Port,
		queries: eventstoredb.New(sqlDB),
		db:      sqlDB,
		now:     time.Now,
		log:     logger.ForService(serviceName),
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
	{
		events := api.Group("/events")
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// 全イベント取得
			events.GET("", s.handleGetAllEvents())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since）
			events.GET("/since", s.handleGetEventsSince())
		}
	}
}

// appendEventRequest はイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	event.AppendRequest
	// ExpectedVersion を指定した場合、Aggregateの最新バージョンが一致しなければ409を返す。
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// eventResponse はイベントのJSONレスポンス構造。
type eventResponse struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Version       int64           `json:"version"`
	CreatedAt     string          `json:"created_at"`
}

func toEventResponse(e eventstoredb.Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          json.RawMessage(e.Data),
		Version:       e.Version,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toEventResponses(rows []eventstoredb.Event) []eventResponse {
	responses := make([]eventResponse, 0, len(rows))
	for _, e := range rows {
		responses = append(responses, toEventResponse(e))
	}
	return responses
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dataはJSONで指定してください"})
			return
		}

		e := eventstoredb.Event{
			ID:            uuid.NewString(),
			AggregateID:   req.AggregateID,
			AggregateType: req.AggregateType,
			EventType:     req.EventType,
			Data:          string(req.Data),
			CreatedAt:     s.now().UTC(),
		}

		version, err := s.appendEvent(c.Request.Context(), e, req.ExpectedVersion)
		if errors.Is(err, ErrVersionConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			s.log.WithError(err).WithField("aggregate_id", e.AggregateID).Error("イベントの追記に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの追記に失敗しました"})
			return
		}
		e.Version = version
		s.log.WithFields(logrus.Fields{
			"aggregate_id": e.AggregateID,
			"event_type":   e.EventType,
			"version":      e.Version,
			"actor_id":     c.GetHeader("X-User-ID"),
		}).Debug("イベントを追記しました")

		c.JSON(http.StatusCreated, toEventResponse(e))
	}
}

// appendEvent はイベントを追記し、採番されたバージョンを返す。
// expectedが指定された場合は最新バージョンと一致するときだけ追記する。
func (s *Server) appendEvent(ctx context.Context, e eventstoredb.Event, expected *int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := s.queries.WithTx(tx)
	if expected != nil {
		latest, err := qtx.GetLatestVersion(ctx, e.AggregateID)
		if err != nil {
			return 0, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
		}
		if latest != *expected {
			return 0, fmt.Errorf("%w: expected=%d, latest=%d", ErrVersionConflict, *expected, latest)
		}
	}

	version, err := qtx.AppendEvent(ctx, eventstoredb.AppendEventParams{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          e.Data,
		CreatedAt:     e.CreatedAt,
	})
	if isUniqueViolation(err) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("イベントの保存に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("コミットに失敗: %w", err)
	}
	return version, nil
}

// isUniqueViolation はSQLiteの一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// 拡張エラーコードが無効な接続では基本コードのみが返る
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT
}

// handleGetAllEvents は全イベントを記録順に返すハンドラを返す。
func (s *Server) handleGetAllEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.queries.ListEvents(c.Request.Context())
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.queries.ListEventsByAggregateID(c.Request.Context(), c.Param("aggregate_id"))
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.queries.ListEventsByType(c.Request.Context(), c.Param("event_type"))
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("since")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceパラメータは必須です"})
			return
		}
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("sinceはRFC3339形式で指定してください: %v", err)})
			return
		}

		events, err := s.queries.ListEventsSince(c.Request.Context(), since.UTC())
		s.respondEvents(c, events, err)
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
// イベントが存在しない場合は0を返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		version, err := s.queries.GetLatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			s.log.WithError(err).WithField("aggregate_id", aggregateID).Error("最新バージョンの取得に失敗しました")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "最新バージョンの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "latest_version": version})
	}
}

func (s *Server) respondEvents(c *gin.Context, events []eventstoredb.Event, err error) {
	if err != nil {
		s.log.WithError(err).Error("イベントの取得に失敗しました")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, toEventResponses(events))
}
