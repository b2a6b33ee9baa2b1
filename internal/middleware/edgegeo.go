package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"crs-api/internal/logger"
	"crs-api/internal/utils"
)

// 文档注释：CDN 边缘节点写入的访问者地理信息
// 背景：部署在 EdgeOne 之后时，回源请求带有访问者国家（alpha-3，与目录国家代码一致）与经纬度，可作为流动站输入的默认值。
// 约束：仅 EDGE_GEO_HEADERS=true 时读取；缺失或非法的经纬度为 NaN。
type GeoHint struct {
	Country string
	Lat     float64
	Lon     float64
}

func (g GeoHint) HasLocation() bool { return !math.IsNaN(g.Lat) && !math.IsNaN(g.Lon) }

type geoHintKey struct{}

// GeoHintFrom：未注入时返回 false
func GeoHintFrom(ctx context.Context) (GeoHint, bool) {
	g, ok := ctx.Value(geoHintKey{}).(GeoHint)
	return g, ok
}

// EdgeGeo：解析边缘地理头并写入上下文
func EdgeGeo(next http.Handler) http.Handler {
	if !utils.EnvBool("EDGE_GEO_HEADERS", false) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := parseEdgeGeo(r.Header)
		logger.L().Debug("edge_geo_inject", "country", g.Country, "lat", g.Lat, "lon", g.Lon)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), geoHintKey{}, g)))
	})
}

func parseEdgeGeo(h http.Header) GeoHint {
	return GeoHint{
		Country: strings.ToUpper(strings.TrimSpace(h.Get("X-EO-Geo-CountryCodeAlpha3"))),
		Lat:     headerFloat(h, "X-EO-Geo-Latitude"),
		Lon:     headerFloat(h, "X-EO-Geo-Longitude"),
	}
}

func headerFloat(h http.Header, key string) float64 {
	if s := h.Get(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return math.NaN()
}
