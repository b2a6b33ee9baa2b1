package api

import (
	"strings"

	"crs-api/internal/catalog"
	"crs-api/internal/resolve"
)

// 文档注释：/resolve 对外返回结构
// 约束：未匹配时 crs 为 null、stream/candidate 为 -1；diagnostics 始终为数组
type resolveResult struct {
	URL                 string              `json:"url"`
	Entry               string              `json:"entry"`
	Mountpoint          string              `json:"mountpoint"`
	Matched             bool                `json:"matched"`
	CRS                 *catalog.CRS        `json:"crs"`
	Stream              int                 `json:"stream"`
	Candidate           int                 `json:"candidate"`
	Diagnostics         resolve.Diagnostics `json:"diagnostics"`
	SpatialReferenceURL string              `json:"spatialreference_url,omitempty"`
}

type requires struct {
	Country bool `json:"country"`
	LatLon  bool `json:"latlon"`
}

// 文档注释：/entries 对外返回结构（不含流定义）
type entryResult struct {
	URL              string            `json:"url"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Reference        catalog.Reference `json:"reference"`
	URLs             []string          `json:"urls"`
	Requires         requires          `json:"requires"`
	NeedsSourcetable bool              `json:"needs_sourcetable"`
}

// 与浏览器端 sourcetable 代理保持相同字段
type sourcetableResult struct {
	URL     string `json:"url"`
	Source  string `json:"source"`
	Release int    `json:"release"`
	Content string `json:"content"`
}

type errorResult struct {
	Error string `json:"error"`
}

// spatialReferenceURL：AUTH:CODE 形式的 ID 映射到 spatialreference.org 页面，其他形式返回空串
func spatialReferenceURL(id string) string {
	auth, code, ok := strings.Cut(id, ":")
	if !ok || auth == "" || code == "" || strings.ContainsAny(code, "/ ") {
		return ""
	}
	return "https://spatialreference.org/ref/" + strings.ToLower(auth) + "/" + code + "/"
}
