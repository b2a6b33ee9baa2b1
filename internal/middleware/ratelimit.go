package middleware

import (
	"net/http"
	"sync"
	"time"

	"crs-api/internal/logger"
	"crs-api/internal/utils"
)

const defaultQPS = 200

// 文档注释：令牌桶限流（每秒）
// 背景：解析请求可能触发对 caster 的 sourcetable 请求，入口限速保护上游。
// 约束：不排队，超限直接返回 429；每个自然秒重置令牌。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	now      func() time.Time
	mu       sync.Mutex
}

// NewTokenBucket：qps <= 0 时按默认 200 处理
func NewTokenBucket(qps int) *TokenBucket {
	if qps <= 0 {
		qps = defaultQPS
	}
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimit：RATE_LIMIT_ENABLED=true 时启用，RATE_LIMIT_QPS 默认 200
func RateLimit(next http.Handler) http.Handler {
	if !utils.EnvBool("RATE_LIMIT_ENABLED", false) {
		return next
	}
	tb := NewTokenBucket(utils.EnvInt("RATE_LIMIT_QPS", defaultQPS))
	logger.L().Info("rate_limit_enabled", "qps", tb.capacity)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tb.Allow() {
			logger.L().Debug("rate_limited", "path", r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap：边缘地理头注入 + 限流
func Wrap(next http.Handler) http.Handler {
	return RateLimit(EdgeGeo(next))
}
