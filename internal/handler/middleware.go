package handler

import (
	"log"
	"runtime/debug"
	"time"

	"txpipeline/pkg/response"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 访问日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件
//
// 接入层 panic 只影响当前请求，不能拖垮同进程的流水线 worker。
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v\n%s", err, debug.Stack())
				response.ServerError(c, "服务器内部错误")
				c.Abort()
			}
		}()
		c.Next()
	}
}
