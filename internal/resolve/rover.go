package resolve

import (
	"fmt"
	"math"

	"crs-api/internal/catalog"
	"crs-api/internal/geo"
)

// Rover：请求方（流动站）的位置与国家代码
// 约束：Lat/Lon 为 NaN 表示未提供；零值 Rover{} 表示位于 (0,0)，未知位置须用 NoLocation 构造。
// Country 区分大小写，空串表示未提供
type Rover struct {
	Lat     float64
	Lon     float64
	Country string
}

// NoLocation 构造未提供经纬度的流动站
func NoLocation(country string) Rover {
	return Rover{Lat: math.NaN(), Lon: math.NaN(), Country: country}
}

// HasLocation 经纬度均已提供
func (r Rover) HasLocation() bool {
	return !math.IsNaN(r.Lat) && !math.IsNaN(r.Lon)
}

// RoverMatches：判定单个候选的流动站过滤条件
func (e *Engine) RoverMatches(c catalog.CRS, r Rover) (bool, Diagnostics) {
	var ds Diagnostics
	ok := e.roverMatches(0, 0, c, r, &ds)
	return ok, ds
}

func (e *Engine) roverMatches(si, ci int, c catalog.CRS, r Rover, ds *Diagnostics) bool {
	switch f := c.Rover.(type) {
	case nil, catalog.NoRoverFilter:
		return true
	case catalog.RoverBBox:
		if !r.HasLocation() {
			e.report(ds, Diagnostic{Code: CodeRoverLocationRequired, Stream: si, Candidate: ci,
				Message: "rover latitude and longitude needed for " + c.ID})
			return false
		}
		return geo.PointInBBox(r.Lat, r.Lon, f.BBox)
	case catalog.RoverCountries:
		if r.Country == "" {
			// 非阻断：继续做成员判定，空值必然不命中
			e.report(ds, Diagnostic{Code: CodeRoverCountryMissing, Stream: si, Candidate: ci,
				Message: "rover country code could be needed for " + c.ID})
		}
		return r.Country != "" && f.Has(r.Country)
	default:
		e.log.Error("rover_filter_unknown", "stream", si, "crs", ci, "type", fmt.Sprintf("%T", c.Rover))
		return false
	}
}
