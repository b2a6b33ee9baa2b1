package resolve

import (
	"errors"
	"fmt"

	"crs-api/internal/catalog"
	"crs-api/internal/geo"
	"crs-api/internal/sourcetable"
)

// Sourcetable：sourcetable 文本提供者
// 约束：nil 或返回 false 表示不可用；Resolve 内最多调用一次，且仅在遇到地理过滤流时调用
type Sourcetable func() (string, bool)

// Text 包装已获取的文本
func Text(raw string) Sourcetable {
	return func() (string, bool) { return raw, true }
}

// once：单次解析内的惰性求值
func (st Sourcetable) once() Sourcetable {
	if st == nil {
		return nil
	}
	var (
		done bool
		raw  string
		ok   bool
	)
	return func() (string, bool) {
		if !done {
			raw, ok = st()
			done = true
		}
		return raw, ok
	}
}

// StreamCandidates：计算单个流在给定挂载点下贡献的候选列表
func (e *Engine) StreamCandidates(s catalog.Stream, mountpoint string, st Sourcetable) ([]catalog.CRS, Diagnostics) {
	var ds Diagnostics
	out := e.streamCandidates(0, s, mountpoint, st, &ds)
	return out, ds
}

func (e *Engine) streamCandidates(si int, s catalog.Stream, mountpoint string, st Sourcetable, ds *Diagnostics) []catalog.CRS {
	switch f := s.Filter.(type) {
	case catalog.AllMountpoints:
		return s.CRSs
	case catalog.MountpointSet:
		if f.Has(mountpoint) {
			return s.CRSs
		}
		return nil
	case catalog.GeoFilter:
		return e.geoCandidates(si, s, f, mountpoint, st, ds)
	default:
		e.log.Error("stream_filter_unknown", "stream", si, "type", fmt.Sprintf("%T", s.Filter))
		return nil
	}
}

// geoCandidates：按挂载点在 sourcetable 中的国家代码或基站坐标判定
// 约束：国家命中优先；其后按声明顺序逐个包围盒测试，任一命中即返回全部候选
func (e *Engine) geoCandidates(si int, s catalog.Stream, f catalog.GeoFilter, mountpoint string, st Sourcetable, ds *Diagnostics) []catalog.CRS {
	var raw string
	ok := false
	if st != nil {
		raw, ok = st()
	}
	if !ok {
		e.report(ds, Diagnostic{Code: CodeSourcetableUnavailable, Stream: si, Candidate: -1,
			Message: "sourcetable needed but unavailable"})
		return nil
	}
	rec, err := sourcetable.Lookup(raw, mountpoint)
	if errors.Is(err, sourcetable.ErrShortRecord) {
		e.report(ds, Diagnostic{Code: CodeSourcetableShortRecord, Stream: si, Candidate: -1,
			Message: fmt.Sprintf("sourcetable record for %s has fewer than %d fields", mountpoint, sourcetable.MinFields)})
		return nil
	}
	if err != nil {
		e.log.Debug("stream_geo_no_record", "stream", si, "mountpoint", mountpoint)
		return nil
	}
	if f.HasCountry(rec.Country) {
		e.log.Debug("stream_geo_country_hit", "stream", si, "mountpoint", mountpoint, "country", rec.Country)
		return s.CRSs
	}
	for bi, b := range f.BBoxes {
		if geo.PointInBBox(rec.Lat, rec.Lon, b) {
			e.log.Debug("stream_geo_bbox_hit", "stream", si, "mountpoint", mountpoint, "bbox", bi)
			return s.CRSs
		}
	}
	return nil
}
