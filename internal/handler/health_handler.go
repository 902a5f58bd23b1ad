package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ChainHealth 链客户端健康状态
type ChainHealth interface {
	GetHealthStatus(ctx context.Context) map[string]interface{}
}

type HealthHandler struct {
	db    *gorm.DB
	chain ChainHealth // 未启用链上结算时为 nil
}

func NewHealthHandler(db *gorm.DB, chain ChainHealth) *HealthHandler {
	return &HealthHandler{db: db, chain: chain}
}

// Health 健康检查, 数据库不可用时返回 503
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":   "ok",
		"service":  "fundledger",
		"database": "connected",
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "disconnected"
	}

	if h.chain != nil {
		chainStatus := h.chain.GetHealthStatus(ctx)
		body["chain"] = chainStatus
		if chainStatus["client_status"] != "connected" {
			body["status"] = "degraded"
		}
	} else {
		body["chain"] = "disabled"
	}

	c.JSON(status, body)
}
