package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleUser は一般ユーザーのロール。
const RoleUser = "user"

// RoleAdmin は管理者のロール。研修コンテンツの公開などに必要。
const RoleAdmin = "admin"

// tokenIssuer はJWTの発行者。
const tokenIssuer = "ichiba-gateway"

// tokenTTL はJWTの有効期間。
const tokenTTL = 24 * time.Hour

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーIDとロールをサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール（user または admin）。
	Role string `json:"role"`
}

// コンテキストキー。
const (
	ctxKeyUserID = "user_id"
	ctxKeyEmail  = "email"
	ctxKeyRole   = "role"
)

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// roleが空の場合は一般ユーザーとして発行する。
func GenerateJWT(secret, userID, email, role string) (string, error) {
	if userID == "" {
		return "", errors.New("ユーザーIDが空です")
	}
	if role == "" {
		role = RoleUser
	}

	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"role" を設定する。
// HS256以外の署名アルゴリズムのトークンは拒否する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleUser
		}

		c.Set(ctxKeyUserID, claims.UserID)
		c.Set(ctxKeyEmail, claims.Email)
		c.Set(ctxKeyRole, role)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// GetRole はGinコンテキストからロールを取得する。未設定の場合は空文字列を返す。
func GetRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// RequireRole は指定ロールのいずれかを持つユーザーのみを通すミドルウェアを返す。
// JWTAuthの後に適用すること。
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		if GetUserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}
		if _, ok := allowed[GetRole(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "この操作を行う権限がありません"})
			return
		}
		c.Next()
	}
}
