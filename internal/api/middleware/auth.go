package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/api/response"
	"gkipass/telemetry/pkg/logger"
)

// APIKeyAuth 管理接口鉴权，校验 X-API-Key 请求头
// 密钥未配置时全部拒绝，避免空密钥放行
func APIKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")

		if key == "" || provided != key {
			logger.Warn("API密钥验证失败",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
			response.GinUnauthorized(c, "invalid api key")
			c.Abort()
			return
		}

		c.Next()
	}
}
