package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce  sync.Once
	entryValidate *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() { entryValidate = validator.New() })
	return entryValidate
}

// Validate：校验单个条目的结构与几何
// 约束：结构规则由 validate 标签声明；包围盒纬度范围与上下界、挂载点集合非空在此补充检查
func (e *Entry) Validate() error {
	if err := structValidator().Struct(e); err != nil {
		return fmt.Errorf("entry %q: %w", e.Name, err)
	}
	var errs []error
	for si, s := range e.Streams {
		switch f := s.Filter.(type) {
		case AllMountpoints:
		case MountpointSet:
			if len(f.Mountpoints) == 0 {
				errs = append(errs, fmt.Errorf("stream %d: empty mountpoints", si))
			}
		case GeoFilter:
			if len(f.Countries) == 0 && len(f.BBoxes) == 0 {
				errs = append(errs, fmt.Errorf("stream %d: geo filter without countries or bboxes", si))
			}
			for bi, b := range f.BBoxes {
				if err := b.Valid(); err != nil {
					errs = append(errs, fmt.Errorf("stream %d bbox %d: %w", si, bi, err))
				}
			}
		}
		for ci, c := range s.CRSs {
			if r, ok := c.Rover.(RoverBBox); ok {
				if err := r.BBox.Valid(); err != nil {
					errs = append(errs, fmt.Errorf("stream %d crs %d rover_bbox: %w", si, ci, err))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("entry %q: %w", e.Name, errors.Join(errs...))
	}
	return nil
}

// Validate 逐条校验，返回全部错误
func (c *Catalog) Validate() error {
	var errs []error
	for i := range c.Entries {
		if err := c.Entries[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Checker：跨文件唯一性检查（名称与 URL）
type Checker struct {
	names map[string][]string
	urls  map[string][]string
}

func NewChecker() *Checker {
	return &Checker{names: map[string][]string{}, urls: map[string][]string{}}
}

// Add 记录条目来源文件
func (k *Checker) Add(file string, entries []Entry) {
	for _, e := range entries {
		k.names[e.Name] = append(k.names[e.Name], file)
		for _, u := range e.URLs {
			k.urls[u] = append(k.urls[u], file)
		}
	}
}

// Duplicate：出现在多个位置的名称或 URL
type Duplicate struct {
	Key   string
	Files []string
}

func (k *Checker) DuplicateNames() []Duplicate { return dups(k.names) }
func (k *Checker) DuplicateURLs() []Duplicate  { return dups(k.urls) }

func dups(m map[string][]string) []Duplicate {
	var out []Duplicate
	for key, files := range m {
		if len(files) > 1 {
			out = append(out, Duplicate{Key: key, Files: files})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
