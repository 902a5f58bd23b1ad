package middleware

import (
	"strconv"
	"time"

	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIdHeader = "X-Request-ID"

// RequestID 透传或生成请求 Id
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIdHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIdHeader, id)
		c.Header(requestIdHeader, id)
		c.Next()
	}
}

// Metrics 记录请求数和耗时, path 使用路由模板
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncInFlight()
		defer metrics.DecInFlight()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AccessLog 请求日志
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{zap.String("request_id", c.GetString(requestIdHeader))}
		if p := Principal(c); p != nil {
			fields = append(fields, zap.String("principal", p.Id))
		}
		logger.With(fields...).Info("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
