package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/api/response"
	"gkipass/telemetry/pkg/logger"
)

// Recovery 恢复中间件，捕获处理器 panic 并返回 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("请求处理异常",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("remote_addr", c.ClientIP()),
					zap.String("stack", string(debug.Stack())),
				)

				response.InternalError(c, "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}
