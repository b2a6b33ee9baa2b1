// 包 utils：环境变量读取、数据库/Redis 连接与自签证书等进程级工具
package utils

import (
	"os"
	"strconv"
)

// Env：读取字符串，空值回退默认
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt：解析失败或为负时回退默认
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// EnvBool：仅 "true"/"false" 生效，其余回退默认
func EnvBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "true":
		return true
	case "false":
		return false
	}
	return def
}
