package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"crs-api/internal/geo"
)

// filter 取值 "all" 表示全部挂载点
const filterAll = "all"

var ErrBadFilter = errors.New("invalid stream filter")

type streamWire struct {
	Filter json.RawMessage `json:"filter"`
	CRSs   []CRS           `json:"crss"`
}

type geoFilterWire struct {
	Countries []string   `json:"countries,omitempty"`
	BBoxes    []geo.BBox `json:"lat_lon_bboxes,omitempty"`
}

type mountpointsWire struct {
	Mountpoints []string `json:"mountpoints"`
}

// UnmarshalJSON：按目录约定将 filter 字段解析为具体变体
// 约束：字符串仅接受 "all"；对象含 mountpoints 键即为挂载点集合（优先于地理键），否则为地理过滤
func (s *Stream) UnmarshalJSON(data []byte) error {
	var w streamWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f, err := decodeStreamFilter(w.Filter)
	if err != nil {
		return err
	}
	s.Filter = f
	s.CRSs = w.CRSs
	return nil
}

func decodeStreamFilter(raw json.RawMessage) (StreamFilter, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing", ErrBadFilter)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s != filterAll {
			return nil, fmt.Errorf("%w: %q", ErrBadFilter, s)
		}
		return AllMountpoints{}, nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFilter, err)
	}
	if _, ok := keys["mountpoints"]; ok {
		var m mountpointsWire
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFilter, err)
		}
		return MountpointSet{Mountpoints: m.Mountpoints}, nil
	}
	var g geoFilterWire
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFilter, err)
	}
	return GeoFilter{Countries: g.Countries, BBoxes: g.BBoxes}, nil
}

func (s Stream) MarshalJSON() ([]byte, error) {
	var f any
	switch v := s.Filter.(type) {
	case AllMountpoints:
		f = filterAll
	case MountpointSet:
		f = mountpointsWire{Mountpoints: v.Mountpoints}
	case GeoFilter:
		f = geoFilterWire{Countries: v.Countries, BBoxes: v.BBoxes}
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadFilter, s.Filter)
	}
	return json.Marshal(struct {
		Filter any   `json:"filter"`
		CRSs   []CRS `json:"crss"`
	}{f, s.CRSs})
}

// UnmarshalJSON：识别流动站过滤键并保留原始字节以便原样透传
// 约束：rover_bbox 优先于 rover_countries
func (c *CRS) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	var out CRS
	for k, dst := range map[string]*string{"id": &out.ID, "name": &out.Name, "description": &out.Description} {
		if v, ok := keys[k]; ok && !bytes.Equal(v, []byte("null")) {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("crs %s: %w", k, err)
			}
		}
	}
	out.Rover = NoRoverFilter{}
	if v, ok := keys["rover_bbox"]; ok {
		var b geo.BBox
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("crs %s rover_bbox: %w", out.ID, err)
		}
		out.Rover = RoverBBox{BBox: b}
	} else if v, ok := keys["rover_countries"]; ok {
		var cs []string
		if err := json.Unmarshal(v, &cs); err != nil {
			return fmt.Errorf("crs %s rover_countries: %w", out.ID, err)
		}
		out.Rover = RoverCountries{Countries: cs}
	}
	out.raw = append(json.RawMessage(nil), data...)
	*c = out
	return nil
}

// MarshalJSON：优先输出加载时的原始字节，保证未知字段不丢失
func (c CRS) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	m := map[string]any{"id": c.ID, "name": c.Name}
	if c.Description != "" {
		m["description"] = c.Description
	}
	switch r := c.Rover.(type) {
	case RoverBBox:
		m["rover_bbox"] = r.BBox
	case RoverCountries:
		m["rover_countries"] = r.Countries
	}
	return json.Marshal(m)
}
