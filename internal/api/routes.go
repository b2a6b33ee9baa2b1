// 包 api：集中注册 HTTP API 路由，主入口挂载到 API_BASE 前缀
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"crs-api/internal/catalog"
	"crs-api/internal/geoip"
	"crs-api/internal/logger"
	"crs-api/internal/metrics"
	"crs-api/internal/middleware"
	"crs-api/internal/resolve"
	"crs-api/internal/sourcetable"
	"crs-api/internal/store"
)

// Sourcetables：sourcetable 会话，*ntrip.Session 实现该接口
type Sourcetables interface {
	Get(ctx context.Context, casterURL string) (string, bool)
	Provider(ctx context.Context, casterURL string) resolve.Sourcetable
}

// Stats：统计存储，*store.Store 实现该接口；为空时统计接口返回 503
type Stats interface {
	IncrStats(ctx context.Context, matched bool) error
	GetTotals(ctx context.Context) (*store.Totals, error)
	RecordUnmatched(ctx context.Context, url, mountpoint string) error
	FetchUnmatched(ctx context.Context, hours int, limit int) ([]store.Unmatched, error)
}

// Locator：IP 定位，*geoip.Locator 实现该接口
type Locator interface {
	Lookup(ip string) (geoip.Location, bool)
}

// Deps：路由依赖；Stats 与 Geo 可为空
type Deps struct {
	Catalog      *catalog.Catalog
	Engine       *resolve.Engine
	Sourcetables Sourcetables
	Stats        Stats
	Geo          Locator
	AdminToken   string
}

// BuildRoutes：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	if d.Engine == nil {
		d.Engine = resolve.New(nil)
	}
	h := &handlers{Deps: d}
	mux := http.NewServeMux()
	mux.HandleFunc("/entries", h.entries)
	mux.HandleFunc("/resolve", h.resolve)
	mux.HandleFunc("/mountpoints", h.mountpoints)
	mux.HandleFunc("/sourcetable", h.sourcetable)
	mux.HandleFunc("/stats", h.stats)
	mux.HandleFunc("/unmatched", h.unmatched)
	return mux
}

type handlers struct {
	Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResult{Error: msg})
}

// lookupEntry：规范化 url 参数并查找条目；失败时已写出响应
// 约束：url 自带端口优先，其次 port（<=0 时取 2101）
func (h *handlers) lookupEntry(w http.ResponseWriter, raw string, port int) (*catalog.Entry, string, bool) {
	u, err := catalog.NormalizeURL(raw, port)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	e, _, ok := h.Catalog.FindByURL(u)
	if !ok {
		logger.L().Debug("entry_not_found", "url", u)
		writeError(w, http.StatusNotFound, "no catalog entry for "+u)
		return nil, u, false
	}
	return e, u, true
}

func (h *handlers) entries(w http.ResponseWriter, r *http.Request) {
	e, u, ok := h.lookupEntry(w, r.URL.Query().Get("url"), queryInt(r, "port", 0))
	if !ok {
		return
	}
	needsCountry, needsLatLon := resolve.RequiresRoverInputs(e)
	writeJSON(w, http.StatusOK, entryResult{
		URL:              u,
		Name:             e.Name,
		Description:      e.Description,
		Reference:        e.Reference,
		URLs:             e.URLs,
		Requires:         requires{Country: needsCountry, LatLon: needsLatLon},
		NeedsSourcetable: e.NeedsSourcetable(),
	})
}

// 文档注释：解析挂载点对应的坐标系
// 背景：流动站输入优先取查询参数，其次边缘节点地理头，经纬度最后尝试 IP 定位。
// 约束：未匹配返回 200 与 matched=false；条目不存在 404；缺少 mountpoint 400。
func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	q := r.URL.Query()
	mountpoint := q.Get("mountpoint")
	if mountpoint == "" {
		writeError(w, http.StatusBadRequest, "missing mountpoint")
		return
	}
	e, u, ok := h.lookupEntry(w, q.Get("url"), queryInt(r, "port", 0))
	if !ok {
		if u != "" {
			metrics.ResolveTotal.WithLabelValues("no_entry").Inc()
		}
		return
	}
	rover := h.roverFrom(r)
	res := h.Engine.Resolve(e, resolve.Request{
		Mountpoint:  mountpoint,
		Rover:       rover,
		Sourcetable: h.Sourcetables.Provider(r.Context(), u),
	})
	out := resolveResult{
		URL:         u,
		Entry:       e.Name,
		Mountpoint:  mountpoint,
		Matched:     res.Matched(),
		CRS:         res.CRS,
		Stream:      res.Stream,
		Candidate:   res.Candidate,
		Diagnostics: res.Diagnostics,
	}
	if out.Diagnostics == nil {
		out.Diagnostics = resolve.Diagnostics{}
	}
	for _, d := range res.Diagnostics {
		metrics.DiagnosticsTotal.WithLabelValues(string(d.Code)).Inc()
	}
	if res.Matched() {
		out.SpatialReferenceURL = spatialReferenceURL(res.CRS.ID)
		metrics.ResolveTotal.WithLabelValues("matched").Inc()
	} else {
		metrics.ResolveTotal.WithLabelValues("no_match").Inc()
	}
	if h.Stats != nil {
		_ = h.Stats.IncrStats(r.Context(), res.Matched())
		if !res.Matched() {
			_ = h.Stats.RecordUnmatched(r.Context(), u, mountpoint)
		}
	}
	dur := time.Since(t0).Milliseconds()
	metrics.ResolveDurationMs.Observe(float64(dur))
	logger.L().Info("resolve_done", "url", u, "mountpoint", mountpoint, "matched", res.Matched(),
		"stream", res.Stream, "crs", res.Candidate, "diagnostics", len(res.Diagnostics), "duration_ms", dur)
	writeJSON(w, http.StatusOK, out)
}

// roverFrom：组装流动站输入
// 约束：请求带有 latitude 或 longitude 任一参数时经纬度只取自参数，缺失的一维保持 NaN
func (h *handlers) roverFrom(r *http.Request) resolve.Rover {
	q := r.URL.Query()
	rover := resolve.Rover{
		Lat:     queryFloat(r, "latitude"),
		Lon:     queryFloat(r, "longitude"),
		Country: queryCountry(r),
	}
	explicit := q.Has("latitude") || q.Has("longitude")
	if hint, ok := middleware.GeoHintFrom(r.Context()); ok {
		if rover.Country == "" {
			rover.Country = hint.Country
		}
		if !explicit && hint.HasLocation() {
			rover.Lat, rover.Lon = hint.Lat, hint.Lon
			return rover
		}
	}
	if explicit || h.Geo == nil {
		return rover
	}
	ip := q.Get("rover_ip")
	if ip == "auto" {
		ip = clientIP(r)
	}
	if ip != "" {
		if loc, ok := h.Geo.Lookup(ip); ok {
			rover.Lat, rover.Lon = loc.Lat, loc.Lon
			logger.L().Debug("rover_geoip", "ip", ip, "lat", loc.Lat, "lon", loc.Lon, "accuracy_km", loc.AccuracyKm)
		}
	}
	return rover
}

func (h *handlers) mountpoints(w http.ResponseWriter, r *http.Request) {
	_, u, ok := h.lookupEntry(w, r.URL.Query().Get("url"), queryInt(r, "port", 0))
	if !ok {
		return
	}
	raw, ok := h.Sourcetables.Get(r.Context(), u)
	if !ok {
		writeError(w, http.StatusBadGateway, "sourcetable unavailable for "+u)
		return
	}
	recs := sourcetable.Mountpoints(raw)
	if recs == nil {
		recs = []sourcetable.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u, "mountpoints": jsonSafe(recs)})
}

// jsonSafe：NaN 坐标不能编码为 JSON，转换为 null
func jsonSafe(recs []sourcetable.Record) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		m := map[string]any{
			"mountpoint": rec.Mountpoint,
			"identifier": rec.Identifier,
			"format":     rec.Format,
			"network":    rec.Network,
			"country":    rec.Country,
			"lat":        nullable(rec.Lat),
			"lon":        nullable(rec.Lon),
		}
		out = append(out, m)
	}
	return out
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// 文档注释：浏览器端 sourcetable 代理
// 背景：浏览器无法直接访问 caster（非 HTTP 标准响应与跨域限制），由服务端代取。
// 约束：仅代理目录中存在的 caster；OPTIONS 预检直接放行。
func (h *handlers) sourcetable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "OPTIONS, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	_, u, ok := h.lookupEntry(w, body.URL, 0)
	if !ok {
		return
	}
	raw, ok := h.Sourcetables.Get(r.Context(), u)
	if !ok {
		writeError(w, http.StatusBadGateway, "sourcetable unavailable for "+u)
		return
	}
	logger.L().Info("sourcetable_proxy", "url", u, "bytes", len(raw))
	writeJSON(w, http.StatusOK, sourcetableResult{URL: u, Source: "local-ntrip-catalog.json", Release: 0, Content: raw})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if h.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats disabled")
		return
	}
	t, err := h.Stats.GetTotals(r.Context())
	if err != nil {
		logger.L().Error("stats_error", "err", err)
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// unmatched：需要 x-admin-token 与 ADMIN_TOKEN 一致；未配置令牌时一律拒绝
func (h *handlers) unmatched(w http.ResponseWriter, r *http.Request) {
	t := r.Header.Get("x-admin-token")
	if h.AdminToken == "" || t != h.AdminToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if h.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats disabled")
		return
	}
	list, err := h.Stats.FetchUnmatched(r.Context(), queryInt(r, "hours", 24), queryInt(r, "limit", 1000))
	if err != nil {
		logger.L().Error("unmatched_fetch_error", "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if list == nil {
		list = []store.Unmatched{}
	}
	writeJSON(w, http.StatusOK, list)
}
