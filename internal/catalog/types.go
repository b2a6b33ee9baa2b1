// 包 catalog：NTRIP 目录（播发器条目、数据流、坐标系候选）的内存模型与编解码
// 约束：加载后只读；流与候选的顺序即匹配优先级
package catalog

import (
	"encoding/json"

	"crs-api/internal/geo"
)

// Catalog：聚合目录（dist/ntrip-catalog.json 的顶层结构）
type Catalog struct {
	Entries []Entry `json:"entries" validate:"dive"`
}

// Entry：一个播发器服务描述，可由多个 URL 访问
type Entry struct {
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description,omitempty"`
	URLs        []string  `json:"urls" validate:"required,min=1,dive,required,url"`
	Reference   Reference `json:"reference"`
	Streams     []Stream  `json:"streams" validate:"required,min=1,dive"`
}

type Reference struct {
	URL string `json:"url,omitempty" validate:"omitempty,url"`
}

// Stream：一组坐标系候选及其适用的挂载点过滤条件
type Stream struct {
	Filter StreamFilter `json:"filter" validate:"required"`
	CRSs   []CRS        `json:"crss" validate:"required,min=1,dive"`
}

// StreamFilter：流过滤条件（封闭的标签变体）
// 约束：仅 AllMountpoints / MountpointSet / GeoFilter 三种实现，调用方按类型穷举匹配
type StreamFilter interface {
	streamFilter()
}

// AllMountpoints：适用于所有挂载点
type AllMountpoints struct{}

// MountpointSet：仅适用于列出的挂载点
type MountpointSet struct {
	Mountpoints []string
}

// GeoFilter：按 sourcetable 中挂载点的国家代码或基站坐标判定
type GeoFilter struct {
	Countries []string
	BBoxes    []geo.BBox
}

func (AllMountpoints) streamFilter() {}
func (MountpointSet) streamFilter()  {}
func (GeoFilter) streamFilter()      {}

// Has 区分大小写
func (f MountpointSet) Has(mountpoint string) bool { return contains(f.Mountpoints, mountpoint) }

// HasCountry 区分大小写，大小写规范由调用方负责
func (f GeoFilter) HasCountry(country string) bool { return contains(f.Countries, country) }

// CRS：坐标系候选；ID/Name/Description 之外的字段原样透传
type CRS struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Rover       RoverFilter `json:"-"`

	raw json.RawMessage
}

// RoverFilter：流动站过滤条件（封闭的标签变体）
type RoverFilter interface {
	roverFilter()
}

// NoRoverFilter：流匹配后无条件适用
type NoRoverFilter struct{}

// RoverBBox：要求流动站位置落在包围盒内
type RoverBBox struct {
	BBox geo.BBox
}

// RoverCountries：要求流动站国家代码在列表中
type RoverCountries struct {
	Countries []string
}

func (NoRoverFilter) roverFilter()  {}
func (RoverBBox) roverFilter()      {}
func (RoverCountries) roverFilter() {}

func (f RoverCountries) Has(country string) bool { return contains(f.Countries, country) }

// NeedsSourcetable：条目中存在 GeoFilter 流时需要获取 sourcetable
func (e *Entry) NeedsSourcetable() bool {
	for _, s := range e.Streams {
		if _, ok := s.Filter.(GeoFilter); ok {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
