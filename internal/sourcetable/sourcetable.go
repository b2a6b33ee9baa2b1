// 包 sourcetable：解析 NTRIP 播发器返回的 sourcetable 文本（分号分隔、按行组织）
// 约束：纯函数，不缓存解析结果；同一文本重复解析得到相同记录
package sourcetable

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"crs-api/internal/geo"
)

// StreamTag：挂载点流记录的类型标记
const StreamTag = "STR"

// 字段位置（0 起）
const (
	fieldType       = 0
	fieldMountpoint = 1
	fieldIdentifier = 2
	fieldFormat     = 3
	fieldNetwork    = 7
	fieldCountry    = 8
	fieldLat        = 9
	fieldLon        = 10

	// MinFields：可用于过滤的 STR 记录最少字段数
	MinFields = 10
)

var (
	ErrNotFound    = errors.New("mountpoint not in sourcetable")
	ErrShortRecord = errors.New("sourcetable record too short")
)

// 行尾探测优先级：按顺序取第一个在文本中出现的分隔符
var lineEndings = []string{"\r\n", "\n\r", "\r", "\n"}

// Record：一条 STR 记录中与坐标系判定相关的字段
// Lat/Lon 缺失或无法解析时为 NaN；Lon 已归一化
type Record struct {
	Mountpoint string   `json:"mountpoint"`
	Identifier string   `json:"identifier,omitempty"`
	Format     string   `json:"format,omitempty"`
	Network    string   `json:"network,omitempty"`
	Country    string   `json:"country,omitempty"`
	Lat        float64  `json:"-"`
	Lon        float64  `json:"-"`
	Fields     []string `json:"-"`
}

// SplitLines：以首个命中的行尾风格切分全文
// 约束：混合行尾时仅按选中的分隔符切分，其余行尾字符留在行内
func SplitLines(raw string) []string {
	sep := lineEndings[len(lineEndings)-1]
	for _, e := range lineEndings {
		if strings.Contains(raw, e) {
			sep = e
			break
		}
	}
	return strings.Split(raw, sep)
}

// isStream：字段数大于 2 且类型为 STR
func isStream(fields []string) bool {
	return len(fields) > 2 && fields[fieldType] == StreamTag
}

// Find：返回第一条属于指定挂载点的 STR 行字段
func Find(raw, mountpoint string) ([]string, bool) {
	for _, line := range SplitLines(raw) {
		fields := strings.Split(line, ";")
		if isStream(fields) && fields[fieldMountpoint] == mountpoint {
			return fields, true
		}
	}
	return nil, false
}

// Lookup：查找并解析挂载点记录
// 返回：未找到时 ErrNotFound；命中行字段少于 MinFields 时 ErrShortRecord（数据不可用）
func Lookup(raw, mountpoint string) (Record, error) {
	fields, ok := Find(raw, mountpoint)
	if !ok {
		return Record{}, ErrNotFound
	}
	if len(fields) < MinFields {
		return Record{}, ErrShortRecord
	}
	return parseRecord(fields), nil
}

// Mountpoints：按出现顺序列出全部 STR 记录（用于挂载点选择列表）
// 约束：字段不足的行也会返回，缺失字段为空串或 NaN
func Mountpoints(raw string) []Record {
	var out []Record
	for _, line := range SplitLines(raw) {
		fields := strings.Split(line, ";")
		if isStream(fields) {
			out = append(out, parseRecord(fields))
		}
	}
	return out
}

func parseRecord(fields []string) Record {
	return Record{
		Mountpoint: field(fields, fieldMountpoint),
		Identifier: field(fields, fieldIdentifier),
		Format:     field(fields, fieldFormat),
		Network:    field(fields, fieldNetwork),
		Country:    field(fields, fieldCountry),
		Lat:        number(fields, fieldLat),
		Lon:        geo.NormalizeLongitude(number(fields, fieldLon)),
		Fields:     fields,
	}
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func number(fields []string, i int) float64 {
	if i >= len(fields) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
