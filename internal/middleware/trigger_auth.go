package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/auth/jwt"
)

// TriggerKeyContextKey 令牌绑定的对象键在 gin 上下文中的键名
const TriggerKeyContextKey = "triggerKey"

// TriggerAuth 投递接口令牌认证中间件
type TriggerAuth struct {
	manager              *jwt.Manager
	allowUnauthenticated bool
	log                  *zap.Logger
}

// NewTriggerAuth 创建令牌认证中间件，manager 为 nil 时只能在允许无认证模式下使用
func NewTriggerAuth(manager *jwt.Manager, allowUnauthenticated bool, log *zap.Logger) *TriggerAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &TriggerAuth{
		manager:              manager,
		allowUnauthenticated: allowUnauthenticated,
		log:                  log,
	}
}

// Require 要求有效的投递触发令牌
func (ta *TriggerAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			if ta.allowUnauthenticated {
				c.Next()
				return
			}
			abort(c, http.StatusUnauthorized, "需要投递令牌")
			return
		}

		if ta.manager == nil {
			abort(c, http.StatusUnauthorized, "投递令牌未启用")
			return
		}

		claims, err := ta.manager.Validate(token)
		if err != nil {
			ta.log.Warn("invalid trigger token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			msg := "无效的投递令牌"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "投递令牌已过期"
			}
			abort(c, http.StatusUnauthorized, msg)
			return
		}

		if claims.Key != "" {
			c.Set(TriggerKeyContextKey, claims.Key)
		}
		c.Next()
	}
}

// extractBearer 从 Authorization 头提取 Bearer 令牌
func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
