package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// queryFloat：缺失或无法解析时返回 NaN
func queryFloat(r *http.Request, key string) float64 {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// queryCountry：国家代码统一大写后再交给解析引擎
func queryCountry(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))
}

// 文档注释：获取访问者 IP（rover_ip=auto 时作为定位来源）
// 背景：多层代理环境下，优先常见反向代理头，最后回退远端地址。
// 约束：头部可被伪造，结果只用于估计流动站位置。
func clientIP(r *http.Request) string {
	h := r.Header
	for _, k := range []string{"x-forwarded-for", "cf-connecting-ip", "x-real-ip", "x-client-ip", "x-edge-client-ip", "x-edgeone-ip"} {
		if x := h.Get(k); x != "" {
			return strings.TrimSpace(strings.Split(x, ",")[0])
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := x[i+4:]
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\" []")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
