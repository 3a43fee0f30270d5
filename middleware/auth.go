package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/config"
)

const (
	UserIDKey   = "user_id"
	UserNameKey = "user_name"
)

// SessionKey is the cache key that marks token as live when sessions are
// required.
func SessionKey(token string) string { return "session:" + token }

// StoreSession records token as live for ttl.
func StoreSession(ctx context.Context, c cache.Cache, token string, userID int64, ttl time.Duration) error {
	return c.Set(ctx, SessionKey(token), strconv.FormatInt(userID, 10), ttl)
}

// RevokeSession ends a session early.
func RevokeSession(ctx context.Context, c cache.Cache, token string) error {
	return c.Del(ctx, SessionKey(token))
}

// tokenFrom reads the Bearer header, falling back to the token query
// parameter that browsers use for WebSocket and EventSource.
func tokenFrom(ctx *gin.Context) string {
	if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ctx.Query("token")
}

// Auth validates the JWT and, when sec.RequireSession is set, checks the
// session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := tokenFrom(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if sec.RequireSession {
			cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
			exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
			cancel()
			if err != nil || !exists {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
				return
			}
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Set(UserNameKey, claims.Name)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated player ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}

func GetUserName(c *gin.Context) string {
	return c.GetString(UserNameKey)
}
