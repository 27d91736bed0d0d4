package handler

import (
	"txpipeline/internal/pipeline"
	"txpipeline/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(intake *service.IntakeService, analyzer *pipeline.DLQAnalyzer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())

	h := NewHandler(intake, analyzer)

	api := r.Group("/api/v1")
	{
		transaction := api.Group("/transaction")
		{
			transaction.POST("/submit", h.SubmitTransaction)
			transaction.GET("/detail", h.GetTransaction)
		}

		dlq := api.Group("/dlq")
		{
			dlq.POST("/retry", h.RetryDLQTransaction)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
