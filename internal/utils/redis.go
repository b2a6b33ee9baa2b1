package utils

import (
	"crs-api/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedisFromEnv：REDIS_HOST/REDIS_PORT/REDIS_PASS/REDIS_DB
// 约束：REDIS_DISABLE=true 时返回 nil，调用方需容忍空客户端；REDIS_DB 非法时回退 0
func OpenRedisFromEnv() *redis.Client {
	if EnvBool("REDIS_DISABLE", false) {
		return nil
	}
	addr := Env("REDIS_HOST", "127.0.0.1") + ":" + Env("REDIS_PORT", "6379")
	db := EnvInt("REDIS_DB", 0)
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: Env("REDIS_PASS", ""), DB: db})
}
