package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"crs-api/internal/logger"
)

// DefaultPort：未指定端口时的 NTRIP 默认端口
const DefaultPort = 2101

var ErrBadURL = errors.New("invalid caster url")

// Load：从文件读取聚合目录，按扩展名选择 JSON 或 YAML
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	entries, err := DecodeEntries(b, IsYAML(path))
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	logger.L().Debug("catalog_loaded", "path", path, "entries", len(entries))
	return &Catalog{Entries: entries}, nil
}

// IsYAML 按扩展名判断
func IsYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// DecodeEntries：解析目录内容
// 背景：聚合文件为 {"entries": [...]}，数据目录中的单个文件可为条目对象或条目数组；三种形态统一为条目列表
func DecodeEntries(data []byte, isYAML bool) ([]Entry, error) {
	if isYAML {
		j, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = j
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty catalog")
	}
	if data[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if _, ok := probe["entries"]; ok {
		var c Catalog
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c.Entries, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return []Entry{e}, nil
}

// yamlToJSON：经通用结构中转，复用 JSON 解码规则
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return json.Marshal(v)
}

// FindByURL：按规范化后的 URL 查找条目，返回第一个命中的条目与匹配到的 URL
func (c *Catalog) FindByURL(u string) (*Entry, string, bool) {
	for i := range c.Entries {
		for _, eu := range c.Entries[i].URLs {
			if eu == u {
				return &c.Entries[i], eu, true
			}
		}
	}
	return nil, "", false
}

// NormalizeURL：补全协议与端口，得到 scheme://host:port 形式
// 约束：缺省协议为 http；端口优先取 URL 自带，其次 port 参数（>0），最后 2101
func NormalizeURL(raw string, port int) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrBadURL)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	p, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	host := p.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrBadURL, raw)
	}
	pp := p.Port()
	if pp == "" {
		if port <= 0 {
			port = DefaultPort
		}
		pp = strconv.Itoa(port)
	}
	return p.Scheme + "://" + net.JoinHostPort(host, pp), nil
}
