package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderInternalToken はサービス間の内部API呼び出しで共有トークンを渡すヘッダー。
const HeaderInternalToken = "X-Internal-Token"

// InternalAuth は内部APIを共有トークンで保護するGinミドルウェアを返す。
// 内部APIはユーザーのJWTを持たないワーカーからも呼び出されるため、JWTの代わりに使用する。
func InternalAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderInternalToken))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "内部APIトークンが無効です"})
			return
		}
		c.Next()
	}
}
