package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger はリクエストごとのアクセスログをlogrusで出力するGinミドルウェアを返す。
// 5xxはerror、4xxはwarn、それ以外はinfoレベルで記録する。
func Logger(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logrus.WithFields(logrus.Fields{
			"service":   service,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"duration":  time.Since(start).String(),
			"client_ip": c.ClientIP(),
			"user_id":   GetUserID(c),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("リクエスト処理に失敗しました")
		case status >= 400:
			entry.Warn("リクエストが拒否されました")
		default:
			entry.Info("リクエストを処理しました")
		}
	}
}
