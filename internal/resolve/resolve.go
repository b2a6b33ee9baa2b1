// 包 resolve：坐标系解析引擎，按条目的流与候选声明顺序选出至多一个坐标系
// 约束：不修改目录数据、不缓存解析结果；所有失败均降级为“该路径无贡献”，由诊断记录
package resolve

import (
	"log/slog"

	"crs-api/internal/catalog"
	"crs-api/internal/logger"
)

// Engine：解析引擎，仅持有日志器，可并发使用
type Engine struct {
	log *slog.Logger
}

// New：l 为空时使用默认日志器
func New(l *slog.Logger) *Engine {
	if l == nil {
		l = logger.L()
	}
	return &Engine{log: l}
}

// Request：一次解析请求
// 约束：Rover 不可省略，位置未知时使用 NoLocation(country)
type Request struct {
	Mountpoint  string
	Rover       Rover
	Sourcetable Sourcetable
}

// Result：解析结果；CRS 为空表示未匹配（正常结果，不是错误）
type Result struct {
	CRS         *catalog.CRS
	Stream      int
	Candidate   int
	Diagnostics Diagnostics
}

func (r Result) Matched() bool { return r.CRS != nil }

// Resolve：依次遍历流与候选，返回第一个同时通过流过滤与流动站过滤的候选
// 约束：某个流有候选但全部未通过流动站过滤时继续下一个流；sourcetable 惰性获取且每次调用至多一次
func (e *Engine) Resolve(entry *catalog.Entry, req Request) Result {
	res := Result{Stream: -1, Candidate: -1}
	st := req.Sourcetable.once()
	for si, s := range entry.Streams {
		crss := e.streamCandidates(si, s, req.Mountpoint, st, &res.Diagnostics)
		for ci := range crss {
			if e.roverMatches(si, ci, crss[ci], req.Rover, &res.Diagnostics) {
				c := crss[ci]
				res.CRS = &c
				res.Stream = si
				res.Candidate = ci
				e.log.Debug("resolve_match", "entry", entry.Name, "mountpoint", req.Mountpoint,
					"stream", si, "crs", c.ID, "name", c.Name)
				return res
			}
		}
	}
	e.log.Debug("resolve_no_match", "entry", entry.Name, "mountpoint", req.Mountpoint,
		"diagnostics", len(res.Diagnostics))
	return res
}

// RequiresRoverInputs：条目是否有候选需要流动站国家代码或经纬度
// 背景：与具体请求无关的静态属性，调用方据此决定向用户索取哪些输入；扫描全部流，不看流过滤
func RequiresRoverInputs(entry *catalog.Entry) (needsCountry, needsLatLon bool) {
	for _, s := range entry.Streams {
		for _, c := range s.CRSs {
			switch c.Rover.(type) {
			case catalog.RoverBBox:
				needsLatLon = true
			case catalog.RoverCountries:
				needsCountry = true
			}
		}
	}
	return needsCountry, needsLatLon
}

// report：记录诊断并输出日志；不改变控制流
func (e *Engine) report(ds *Diagnostics, d Diagnostic) {
	ds.add(d)
	switch d.Code {
	case CodeSourcetableUnavailable, CodeSourcetableShortRecord, CodeRoverLocationRequired:
		e.log.Error("resolve_diagnostic", "code", string(d.Code), "stream", d.Stream, "crs", d.Candidate, "msg", d.Message)
	default:
		e.log.Warn("resolve_diagnostic", "code", string(d.Code), "stream", d.Stream, "crs", d.Candidate, "msg", d.Message)
	}
}
