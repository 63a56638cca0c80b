package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout はリクエスト全体のタイムアウト。
const defaultTimeout = 10 * time.Second

// maxErrorBody はエラー時に読み取るレスポンスボディの上限（バイト）。
const maxErrorBody = 4 << 10

// Client はサービス間通信用のHTTPクライアント。
// リトライは行わず、1回だけ送信する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// headers は全リクエストに付与する固定ヘッダー。
	headers http.Header
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithHeader は全リクエストに付与するヘッダーを追加する。
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithTimeout はリクエストのタイムアウトを変更する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New は新しいサービス間通信用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://notification:8086"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError は2xx以外のレスポンスを表すエラー。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディの先頭部分。
	Body string
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// resultがnilでなければレスポンスボディをデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// コンテキストからユーザーIDを伝播する
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok && userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyUserID はコンテキストにユーザーIDを格納するためのキー。
const contextKeyUserID contextKey = "user_id"

// WithUserID はコンテキストに操作者のユーザーIDを設定する。
// 設定したIDはサービス間通信時にX-User-IDヘッダーとして送信される。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}
