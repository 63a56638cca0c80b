package notification

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notificationdb "github.com/nao1215/ichiba/internal/notification/db"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/nao1215/ichiba/pkg/migration"
)

const (
	testSecret        = "test-secret"
	testInternalToken = "test-internal-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeEventStore は受け取ったイベント追記リクエストを記録するEvent Storeのモック。
type fakeEventStore struct {
	mu       sync.Mutex
	requests []event.AppendRequest
}

func (f *fakeEventStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req event.AppendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"mock-event-id"}`))
	}
}

func (f *fakeEventStore) recorded() []event.AppendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.AppendRequest(nil), f.requests...)
}

// setupTestServer はテスト用の通知サーバーをインメモリSQLiteで構築する。
// Event Storeのモックサーバーも生成し、テスト終了時にクリーンアップする。
func setupTestServer(t *testing.T) (*Server, *fakeEventStore) {
	t.Helper()

	sqlDB, err := openDB(t.Context(), migration.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := &fakeEventStore{}
	eventStore := httptest.NewServer(store.handler())
	t.Cleanup(eventStore.Close)

	s := &Server{
		router:        gin.New(),
		port:          "0",
		queries:       notificationdb.New(sqlDB),
		db:            sqlDB,
		events:        event.NewRecorder(httpclient.New(eventStore.URL)),
		jwtSecret:     testSecret,
		internalToken: testInternalToken,
		now:           time.Now,
		log:           logrus.WithField("service", serviceName),
	}
	s.setupRoutes()
	return s, store
}

// withCache はminiredisを使った未読件数キャッシュをサーバーに設定する。
func withCache(t *testing.T, s *Server) *miniredis.Miniredis {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s.redis = client
	s.cache = newUnreadCache(client, time.Minute)
	return mr
}

// createTestNotification はテスト用に通知をDBに直接挿入するヘルパー関数。
func createTestNotification(t *testing.T, s *Server, userID string, createdAt time.Time, read bool) string {
	t.Helper()

	id := uuid.New().String()
	err := s.queries.CreateNotification(t.Context(), notificationdb.CreateNotificationParams{
		ID:        id,
		UserID:    userID,
		Title:     "タイトル",
		Message:   "メッセージ",
		Type:      "system",
		CreatedAt: createdAt,
	})
	require.NoError(t, err)

	if read {
		_, err := s.queries.MarkAsRead(t.Context(), id)
		require.NoError(t, err)
	}
	return id
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
// userIDが空でなければそのユーザーのJWTを付与する。
func doRequest(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := middleware.GenerateJWT(testSecret, userID, userID+"@example.com", middleware.RoleUser)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// doInternalRequest は内部APIトークン付きのリクエストを実行する。
func doInternalRequest(t *testing.T, router http.Handler, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	jsonBytes, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/internal/notifications", bytes.NewReader(jsonBytes))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.HeaderInternalToken, token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func parseList(t *testing.T, w *httptest.ResponseRecorder) []notificationResponse {
	t.Helper()

	var list []notificationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	return list
}

func unreadCount(t *testing.T, router http.Handler, userID string) int64 {
	t.Helper()

	w := doRequest(t, router, http.MethodGet, "/api/v1/notifications/unread-count", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Count
}

func TestHandleCreate(t *testing.T) {
	t.Parallel()

	validBody := map[string]string{
		"user_id":    "buyer-1",
		"sender_id":  "seller-1",
		"title":      "予約が更新されました",
		"message":    "清掃の予約がAcceptedになりました",
		"type":       "booking",
		"link":       "/bookings/b-1",
		"related_id": "b-1",
	}

	t.Run("内部トークン付きで通知が作成されること", func(t *testing.T) {
		t.Parallel()
		s, store := setupTestServer(t)

		w := doInternalRequest(t, s.router, testInternalToken, validBody)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp notificationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, "buyer-1", resp.UserID)
		assert.Equal(t, "seller-1", resp.SenderID)
		assert.Equal(t, "booking", resp.Type)
		assert.Equal(t, "b-1", resp.RelatedID)
		assert.False(t, resp.IsRead)

		stored, err := s.queries.GetNotificationByID(t.Context(), resp.ID)
		require.NoError(t, err)
		assert.Equal(t, "/bookings/b-1", stored.Link)

		events := store.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, resp.ID, events[0].AggregateID)
		assert.Equal(t, string(event.TypeNotificationSent), events[0].EventType)
	})

	t.Run("内部トークンがない場合は401を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doInternalRequest(t, s.router, "", validBody)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("内部トークンが誤っている場合は401を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doInternalRequest(t, s.router, "wrong", validBody)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("未知の通知種類の場合は400を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		body := map[string]string{"user_id": "u1", "title": "t", "message": "m", "type": "promotion"}
		w := doInternalRequest(t, s.router, testInternalToken, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("必須項目が欠けている場合は400を返し保存しないこと", func(t *testing.T) {
		t.Parallel()
		s, store := setupTestServer(t)

		body := map[string]string{"user_id": "u1", "message": "m", "type": "system"}
		w := doInternalRequest(t, s.router, testInternalToken, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		list, err := s.queries.ListNotificationsByUserID(t.Context(), "u1")
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.Empty(t, store.recorded())
	})

	t.Run("Event Storeが停止していても通知は作成されること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		s.events = event.NewRecorder(httpclient.New("http://127.0.0.1:1", httpclient.WithTimeout(200*time.Millisecond)))

		w := doInternalRequest(t, s.router, testInternalToken, validBody)
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestHandleList(t *testing.T) {
	t.Parallel()

	t.Run("自分宛ての通知が新しい順に返されること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
		oldest := createTestNotification(t, s, "u1", base, false)
		newest := createTestNotification(t, s, "u1", base.Add(2*time.Hour), true)
		middle := createTestNotification(t, s, "u1", base.Add(time.Hour), false)
		createTestNotification(t, s, "u2", base.Add(3*time.Hour), false)

		w := doRequest(t, s.router, http.MethodGet, "/api/v1/notifications", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		list := parseList(t, w)
		require.Len(t, list, 3)
		assert.Equal(t, []string{newest, middle, oldest}, []string{list[0].ID, list[1].ID, list[2].ID})
	})

	t.Run("未読一覧には未読の通知だけが含まれること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
		createTestNotification(t, s, "u1", base, true)
		unread := createTestNotification(t, s, "u1", base.Add(time.Minute), false)

		w := doRequest(t, s.router, http.MethodGet, "/api/v1/notifications/unread", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		list := parseList(t, w)
		require.Len(t, list, 1)
		assert.Equal(t, unread, list[0].ID)
	})

	t.Run("通知がない場合は空配列を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doRequest(t, s.router, http.MethodGet, "/api/v1/notifications", "nobody", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("JWTがない場合は401を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doRequest(t, s.router, http.MethodGet, "/api/v1/notifications", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandleMarkAsRead(t *testing.T) {
	t.Parallel()

	t.Run("受信者が未読の通知を既読にできること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		id := createTestNotification(t, s, "u1", time.Now(), false)

		w := doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/"+id+"/read", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp notificationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.IsRead)

		stored, err := s.queries.GetNotificationByID(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.IsRead)
	})

	t.Run("既読の通知に対しては状態を変えず成功すること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		id := createTestNotification(t, s, "u1", time.Now(), true)

		w := doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/"+id+"/read", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		stored, err := s.queries.GetNotificationByID(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.IsRead)
	})

	t.Run("他人の通知は403を返し既読にならないこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		id := createTestNotification(t, s, "u1", time.Now(), false)

		w := doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/"+id+"/read", "intruder", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		stored, err := s.queries.GetNotificationByID(t.Context(), id)
		require.NoError(t, err)
		assert.Zero(t, stored.IsRead)
	})

	t.Run("存在しない通知は404を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/missing/read", "u1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleMarkAllAsRead(t *testing.T) {
	t.Parallel()

	t.Run("未読3件と既読2件のユーザーが一括既読にすると全件既読で未読数0になること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := range 3 {
			createTestNotification(t, s, "u1", base.Add(time.Duration(i)*time.Minute), false)
		}
		for i := range 2 {
			createTestNotification(t, s, "u1", base.Add(time.Duration(10+i)*time.Minute), true)
		}
		other := createTestNotification(t, s, "u2", base, false)

		require.Equal(t, int64(3), unreadCount(t, s.router, "u1"))

		w := doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/read-all", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"updated":3}`, w.Body.String())

		list, err := s.queries.ListNotificationsByUserID(t.Context(), "u1")
		require.NoError(t, err)
		require.Len(t, list, 5)
		for _, n := range list {
			assert.Equal(t, int64(1), n.IsRead)
		}
		assert.Zero(t, unreadCount(t, s.router, "u1"))

		stored, err := s.queries.GetNotificationByID(t.Context(), other)
		require.NoError(t, err)
		assert.Zero(t, stored.IsRead)
	})

	t.Run("未読がない場合は更新件数0を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/read-all", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"updated":0}`, w.Body.String())
	})
}

func TestHandleDelete(t *testing.T) {
	t.Parallel()

	t.Run("受信者が通知を削除できること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		id := createTestNotification(t, s, "u1", time.Now(), false)

		w := doRequest(t, s.router, http.MethodDelete, "/api/v1/notifications/"+id, "u1", nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		list, err := s.queries.ListNotificationsByUserID(t.Context(), "u1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("他人の通知は削除できないこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		id := createTestNotification(t, s, "u1", time.Now(), false)

		w := doRequest(t, s.router, http.MethodDelete, "/api/v1/notifications/"+id, "u2", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		_, err := s.queries.GetNotificationByID(t.Context(), id)
		assert.NoError(t, err)
	})

	t.Run("存在しない通知は404を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)

		w := doRequest(t, s.router, http.MethodDelete, "/api/v1/notifications/missing", "u1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUnreadCountCache(t *testing.T) {
	t.Parallel()

	t.Run("未読件数がキャッシュされること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		mr := withCache(t, s)
		createTestNotification(t, s, "u1", time.Now(), false)

		assert.Equal(t, int64(1), unreadCount(t, s.router, "u1"))

		cached, err := mr.Get(unreadKey("u1"))
		require.NoError(t, err)
		assert.Equal(t, "1", cached)
		assert.Positive(t, mr.TTL(unreadKey("u1")))
	})

	t.Run("キャッシュがあればその値を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		mr := withCache(t, s)
		require.NoError(t, mr.Set(unreadKey("u1"), "42"))

		assert.Equal(t, int64(42), unreadCount(t, s.router, "u1"))
	})

	t.Run("通知の作成と既読化でキャッシュが破棄されること", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		mr := withCache(t, s)

		assert.Zero(t, unreadCount(t, s.router, "u1"))
		require.True(t, mr.Exists(unreadKey("u1")))

		w := doInternalRequest(t, s.router, testInternalToken, map[string]string{
			"user_id": "u1", "title": "t", "message": "m", "type": "system",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.False(t, mr.Exists(unreadKey("u1")))
		assert.Equal(t, int64(1), unreadCount(t, s.router, "u1"))

		var created notificationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		w = doRequest(t, s.router, http.MethodPut, "/api/v1/notifications/"+created.ID+"/read", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, mr.Exists(unreadKey("u1")))
		assert.Zero(t, unreadCount(t, s.router, "u1"))
	})

	t.Run("Redisが停止していてもSQLiteの値を返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		mr := withCache(t, s)
		createTestNotification(t, s, "u1", time.Now(), false)
		mr.Close()

		assert.Equal(t, int64(1), unreadCount(t, s.router, "u1"))
	})
}

func TestPersistenceFailure(t *testing.T) {
	t.Parallel()

	setupMockServer := func(t *testing.T) (*Server, sqlmock.Sqlmock) {
		t.Helper()

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = sqlDB.Close() })

		s := &Server{
			router:        gin.New(),
			queries:       notificationdb.New(sqlDB),
			db:            sqlDB,
			jwtSecret:     testSecret,
			internalToken: testInternalToken,
			now:           time.Now,
			log:           logrus.WithField("service", serviceName),
		}
		s.setupRoutes()
		return s, mock
	}

	t.Run("一覧取得に失敗した場合は500を返すこと", func(t *testing.T) {
		t.Parallel()
		s, mock := setupMockServer(t)
		mock.ExpectQuery("SELECT .* FROM notifications").WillReturnError(assert.AnError)

		w := doRequest(t, s.router, http.MethodGet, "/api/v1/notifications", "u1", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("通知の保存に失敗した場合は500を返しイベントを記録しないこと", func(t *testing.T) {
		t.Parallel()
		s, mock := setupMockServer(t)
		mock.ExpectExec("INSERT INTO notifications").WillReturnError(assert.AnError)

		w := doInternalRequest(t, s.router, testInternalToken, map[string]string{
			"user_id": "u1", "title": "t", "message": "m", "type": "system",
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
