// 包 geo：经度归一化与跨越反子午线的包围盒判定，供流过滤与流动站过滤共用
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// BBox：经纬度包围盒（度）
// 约束：MinLon > MaxLon 表示跨越 ±180° 反子午线；JSON 形式为 [min_lon, min_lat, max_lon, max_lat]
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// NormalizeLongitude：将经度折算到 [-180, 180]
// 约束：大于 180 的输入落在 (-180, 180]，小于 -180 的输入落在 [-180, 180)；NaN 与 ±Inf 原样返回
func NormalizeLongitude(lon float64) float64 {
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return lon
	}
	if lon > 180 {
		lon -= 360 * math.Ceil((lon-180)/360)
	} else if lon < -180 {
		lon += 360 * math.Ceil((-180-lon)/360)
	}
	// 大数值时浮点误差可能残留一个周期
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// CrossesAntimeridian：最小经度大于最大经度即视为跨越反子午线
func (b BBox) CrossesAntimeridian() bool {
	return NormalizeLongitude(b.MinLon) > NormalizeLongitude(b.MaxLon)
}

// Normalized 返回两端经度归一化后的副本
func (b BBox) Normalized() BBox {
	return BBox{MinLon: NormalizeLongitude(b.MinLon), MinLat: b.MinLat, MaxLon: NormalizeLongitude(b.MaxLon), MaxLat: b.MaxLat}
}

// PointInBBox：点是否落在包围盒内（含边界）
// 背景：先按纬度快速拒绝，再对点与盒的经度统一归一化后比较；跨越反子午线的盒按“或”判定
func PointInBBox(lat, lon float64, b BBox) bool {
	// NaN 纬度不在任何区间内
	if !(lat >= b.MinLat && lat <= b.MaxLat) {
		return false
	}
	lon = NormalizeLongitude(lon)
	n := b.Normalized()
	if n.MinLon > n.MaxLon {
		return lon >= n.MinLon || lon <= n.MaxLon
	}
	return lon >= n.MinLon && lon <= n.MaxLon
}

var (
	ErrLatRange = errors.New("latitude out of range")
	ErrLatOrder = errors.New("min latitude greater than max latitude")
)

// Valid：校验纬度范围与上下界顺序；经度不校验，任意有限值均可归一化
func (b BBox) Valid() error {
	for _, v := range []float64{b.MinLat, b.MaxLat} {
		if math.IsNaN(v) || v < -90 || v > 90 {
			return fmt.Errorf("%w: %v", ErrLatRange, v)
		}
	}
	if b.MinLat > b.MaxLat {
		return ErrLatOrder
	}
	for _, v := range []float64{b.MinLon, b.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid longitude: %v", v)
		}
	}
	return nil
}

func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat})
}

func (b *BBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(arr) != 4 {
		return fmt.Errorf("bbox: want 4 numbers, got %d", len(arr))
	}
	*b = BBox{MinLon: arr[0], MinLat: arr[1], MaxLon: arr[2], MaxLat: arr[3]}
	return nil
}
