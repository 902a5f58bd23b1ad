package middleware

import (
	"sync"
	"time"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/logger"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const maxLimiters = 10000

// RateLimiter 按认证用户(匿名按客户端 IP)限流
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler 需放在认证中间件之后
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if p := Principal(c); p != nil {
			key = "user:" + p.Id
		}
		if !rl.getLimiter(key).Allow() {
			logger.Warn("Rate limit exceeded for %s on %s %s", key, c.Request.Method, c.FullPath())
			abort(c, apperr.New(apperr.KindRateLimited, apperr.CodeRateLimited, "请求过于频繁，请稍后再试"))
			return
		}
		c.Next()
	}
}

// Cleanup 限流器过多时整体重置
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup 周期清理, stop 关闭后退出
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}
