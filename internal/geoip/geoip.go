// 包 geoip：按请求方 IP 估计流动站经纬度（MaxMind City 库）
package geoip

import (
	"net"

	"crs-api/internal/logger"

	"github.com/oschwald/geoip2-golang"
)

// Location：IP 定位结果；Country 为 ISO 3166-1 alpha-2，与目录中的 alpha-3 代码不同，不参与国家过滤
type Location struct {
	Lat         float64
	Lon         float64
	AccuracyKm  uint16
	CountryISO2 string
}

// Locator：City 库查询器；nil 接收者视为未配置
type Locator struct {
	db *geoip2.Reader
}

// Open：path 为空时返回 nil, nil
func Open(path string) (*Locator, error) {
	if path == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	logger.L().Info("geoip_loaded", "path", path, "type", db.Metadata().DatabaseType)
	return &Locator{db: db}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Lookup：IP 非法、库中无记录或无坐标时返回 false
func (l *Locator) Lookup(ip string) (Location, bool) {
	var zero Location
	if l == nil || l.db == nil {
		return zero, false
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return zero, false
	}
	rec, err := l.db.City(addr)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ip, "err", err)
		return zero, false
	}
	// 无坐标的记录经纬度与精度均为零值
	if rec.Location.AccuracyRadius == 0 && rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return zero, false
	}
	return Location{
		Lat:         rec.Location.Latitude,
		Lon:         rec.Location.Longitude,
		AccuracyKm:  rec.Location.AccuracyRadius,
		CountryISO2: rec.Country.IsoCode,
	}, true
}
