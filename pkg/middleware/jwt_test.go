package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// parseTestToken はテスト用シークレットでトークンを検証してクレームを返す。
func parseTestToken(t *testing.T, tokenStr string) *JWTClaims {
	t.Helper()

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	return claims
}

// newAuthRouter はJWTAuthを適用し、コンテキストの値をJSONで返すルーターを生成する。
func newAuthRouter() *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c),
			"email":   c.GetString("email"),
			"role":    GetRole(c),
		})
	})
	return router
}

// serveWithToken はAuthorizationヘッダー付きでGETリクエストを実行する。
func serveWithToken(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーID・メール・ロールを含むトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com", RoleAdmin)
		require.NoError(t, err)

		claims := parseTestToken(t, tokenStr)
		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, "user-123", claims.Subject)
		assert.Equal(t, "test@example.com", claims.Email)
		assert.Equal(t, RoleAdmin, claims.Role)
		assert.Equal(t, "ichiba-gateway", claims.Issuer)
	})

	t.Run("ロールが空の場合はuserになること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-1", "a@example.com", "")
		require.NoError(t, err)
		assert.Equal(t, RoleUser, parseTestToken(t, tokenStr).Role)
	})

	t.Run("有効期限が24時間後であること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "user-exp", "exp@example.com", "")
		require.NoError(t, err)

		claims := parseTestToken(t, tokenStr)
		assert.WithinDuration(t, before.Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
	})

	t.Run("ユーザーIDが空の場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := GenerateJWT(testSecret, "", "a@example.com", "")
		assert.Error(t, err)
	})
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでコンテキストに値が設定されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-ok", "ok@example.com", RoleAdmin)
		require.NoError(t, err)

		w := serveWithToken(newAuthRouter(), "Bearer "+tokenStr)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "user-ok", body["user_id"])
		assert.Equal(t, "ok@example.com", body["email"])
		assert.Equal(t, RoleAdmin, body["role"])
		assert.Equal(t, "user-ok", w.Header().Get("X-User-ID"))
	})

	t.Run("ロールの無い旧形式トークンはuserとして扱うこと", func(t *testing.T) {
		t.Parallel()

		claims := JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserID: "user-legacy",
		}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		w := serveWithToken(newAuthRouter(), "Bearer "+tokenStr)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"role":"user"`)
	})

	tests := []struct {
		name    string
		header  func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "Authorizationヘッダーが無い場合",
			header:  func(_ *testing.T) string { return "" },
			wantErr: "Authorizationヘッダーが必要です",
		},
		{
			name: "Bearer接頭辞が無い場合",
			header: func(t *testing.T) string {
				tokenStr, err := GenerateJWT(testSecret, "user-1", "", "")
				require.NoError(t, err)
				return tokenStr
			},
			wantErr: "Bearer トークン形式が不正です",
		},
		{
			name:    "不正なトークン文字列の場合",
			header:  func(_ *testing.T) string { return "Bearer invalid-token-string" },
			wantErr: "トークンが無効です",
		},
		{
			name: "異なるシークレットで署名された場合",
			header: func(t *testing.T) string {
				tokenStr, err := GenerateJWT("different-secret", "user-1", "", "")
				require.NoError(t, err)
				return "Bearer " + tokenStr
			},
			wantErr: "トークンが無効です",
		},
		{
			name: "期限切れの場合",
			header: func(t *testing.T) string {
				claims := JWTClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
					},
					UserID: "user-expired",
				}
				tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
				require.NoError(t, err)
				return "Bearer " + tokenStr
			},
			wantErr: "トークンが無効です",
		},
		{
			name: "HS512で署名された場合",
			header: func(t *testing.T) string {
				claims := JWTClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
					},
					UserID: "user-hs512",
				}
				tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
				require.NoError(t, err)
				return "Bearer " + tokenStr
			},
			wantErr: "トークンが無効です",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name+"は401が返ること", func(t *testing.T) {
			t.Parallel()

			w := serveWithToken(newAuthRouter(), tc.header(t))
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.wantErr, body["error"])
		})
	}
}

// TestRequireRole はRequireRoleミドルウェアを検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	newRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(JWTAuth(testSecret))
		router.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return router
	}

	t.Run("管理者は通過できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "admin-1", "", RoleAdmin)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("一般ユーザーは403になること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-1", "", RoleUser)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("認証情報が無い場合は401になること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// TestGetUserID はGetUserID関数を検証する。
func TestGetUserID(t *testing.T) {
	t.Parallel()

	t.Run("文字列以外の値が設定されている場合は空文字列を返すこと", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set("user_id", 12345)

		assert.Empty(t, GetUserID(c))
	})

	t.Run("未設定の場合は空文字列を返すこと", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.Empty(t, GetUserID(c))
		assert.Empty(t, GetRole(c))
	})
}
