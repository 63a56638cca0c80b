package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// TestInternalAuth はInternalAuthミドルウェアを検証する。
func TestInternalAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{name: "正しいトークンは通過できること", configured: "secret", header: "secret", wantStatus: http.StatusNoContent},
		{name: "誤ったトークンは401になること", configured: "secret", header: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "ヘッダーが無い場合は401になること", configured: "secret", header: "", wantStatus: http.StatusUnauthorized},
		{name: "トークン未設定のサーバーは常に401になること", configured: "", header: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.POST("/internal", InternalAuth(tc.configured), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tc.header != "" {
				req.Header.Set(HeaderInternalToken, tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}
