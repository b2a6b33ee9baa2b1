package ntrip

import (
	"context"
	"errors"
	"sync"
	"time"

	"crs-api/internal/logger"
	"crs-api/internal/metrics"
	"crs-api/internal/resolve"
	"crs-api/internal/utils"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	redisPrefix = "sourcetable:"
	// redisDefaultTTL：会话不过期时 Redis 副本的存活时间
	redisDefaultTTL = 24 * time.Hour
)

// Fetcher：sourcetable 来源，*Client 实现该接口
type Fetcher interface {
	FetchSourcetable(ctx context.Context, casterURL string) (string, error)
}

// outcome：一次获取的结果；ok=false 为本会话内的永久失败
type outcome struct {
	text string
	ok   bool
}

// Session：sourcetable 会话
// 约束：同一 URL 在会话有效期内至多获取一次；并发调用共享同一次获取；失败不重试
type Session struct {
	fetch Fetcher
	rdb   *redis.Client
	ttl   time.Duration
	cache *ttlcache.Cache[string, outcome]
	group singleflight.Group

	closeOnce sync.Once
	closeWg   sync.WaitGroup
}

// NewSession：ttl<=0 表示结果在会话内永不过期；rdb 可为空
func NewSession(f Fetcher, rdb *redis.Client, ttl time.Duration) *Session {
	if ttl < 0 {
		ttl = 0
	}
	opts := []ttlcache.Option[string, outcome]{ttlcache.WithDisableTouchOnHit[string, outcome]()}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, outcome](ttl))
	}
	s := &Session{fetch: f, rdb: rdb, ttl: ttl, cache: ttlcache.New(opts...)}
	if ttl > 0 {
		s.closeWg.Add(1)
		go func() {
			defer s.closeWg.Done()
			s.cache.Start()
		}()
	}
	return s
}

// NewSessionFromEnv：SOURCETABLE_SESSION_TTL_S，默认 600 秒
func NewSessionFromEnv(f Fetcher, rdb *redis.Client) *Session {
	return NewSession(f, rdb, time.Duration(utils.EnvInt("SOURCETABLE_SESSION_TTL_S", 600))*time.Second)
}

// Close 停止过期清理协程
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.ttl > 0 {
			s.cache.Stop()
		}
		s.closeWg.Wait()
	})
}

// Preload：直接写入已知文本，后续 Get 不再发起请求
func (s *Session) Preload(casterURL, text string) {
	s.cache.Set(casterURL, outcome{text: text, ok: true}, ttlcache.DefaultTTL)
}

// Get 返回 caster 的 sourcetable 文本；false 表示本会话内不可用
func (s *Session) Get(ctx context.Context, casterURL string) (string, bool) {
	if it := s.cache.Get(casterURL); it != nil {
		metrics.SourcetableCacheTotal.WithLabelValues("memory", "hit").Inc()
		o := it.Value()
		return o.text, o.ok
	}
	metrics.SourcetableCacheTotal.WithLabelValues("memory", "miss").Inc()
	v, _, _ := s.group.Do(casterURL, func() (interface{}, error) {
		if it := s.cache.Get(casterURL); it != nil {
			return it.Value(), nil
		}
		o := s.load(ctx, casterURL)
		s.cache.Set(casterURL, o, ttlcache.DefaultTTL)
		return o, nil
	})
	o := v.(outcome)
	return o.text, o.ok
}

// Provider：适配解析引擎的惰性 sourcetable 提供者
func (s *Session) Provider(ctx context.Context, casterURL string) resolve.Sourcetable {
	return func() (string, bool) { return s.Get(ctx, casterURL) }
}

// load：先查 Redis 共享副本，再向 caster 获取
// 约束：获取使用脱离请求取消的上下文，单个调用方断开不会让其他等待者得到失败结果
func (s *Session) load(ctx context.Context, casterURL string) outcome {
	if s.rdb != nil {
		text, err := s.rdb.Get(ctx, redisPrefix+casterURL).Result()
		switch {
		case err == nil:
			metrics.SourcetableCacheTotal.WithLabelValues("redis", "hit").Inc()
			logger.L().Debug("sourcetable_redis_hit", "url", casterURL)
			return outcome{text: text, ok: true}
		case errors.Is(err, redis.Nil):
			metrics.SourcetableCacheTotal.WithLabelValues("redis", "miss").Inc()
		default:
			logger.L().Warn("sourcetable_redis_get_error", "url", casterURL, "err", err)
		}
	}
	text, err := s.fetch.FetchSourcetable(context.WithoutCancel(ctx), casterURL)
	if err != nil {
		logger.L().Warn("sourcetable_unavailable", "url", casterURL, "err", err)
		return outcome{}
	}
	if s.rdb != nil {
		ttl := s.ttl
		if ttl == 0 {
			ttl = redisDefaultTTL
		}
		if err := s.rdb.Set(ctx, redisPrefix+casterURL, text, ttl).Err(); err != nil {
			logger.L().Warn("sourcetable_redis_set_error", "url", casterURL, "err", err)
		}
	}
	return outcome{text: text, ok: true}
}
