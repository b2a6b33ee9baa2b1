package resolve

import "fmt"

// Code：诊断类别（软失败路径）
type Code string

const (
	// CodeSourcetableUnavailable：地理过滤需要 sourcetable 但无法获得
	CodeSourcetableUnavailable Code = "sourcetable_unavailable"
	// CodeSourcetableShortRecord：挂载点记录字段不足，数据不可用
	CodeSourcetableShortRecord Code = "sourcetable_short_record"
	// CodeRoverLocationRequired：候选要求流动站经纬度但未提供
	CodeRoverLocationRequired Code = "rover_location_required"
	// CodeRoverCountryMissing：候选按国家过滤但未提供国家代码
	CodeRoverCountryMissing Code = "rover_country_missing"
)

// Diagnostic：一次解析中走过的软失败路径
// 约束：Candidate 为 -1 表示流级别诊断
type Diagnostic struct {
	Code      Code   `json:"code"`
	Stream    int    `json:"stream"`
	Candidate int    `json:"candidate"`
	Message   string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Candidate < 0 {
		return fmt.Sprintf("%s (stream %d): %s", d.Code, d.Stream, d.Message)
	}
	return fmt.Sprintf("%s (stream %d, crs %d): %s", d.Code, d.Stream, d.Candidate, d.Message)
}

// Diagnostics：按发生顺序收集
type Diagnostics []Diagnostic

func (ds *Diagnostics) add(d Diagnostic) {
	if ds != nil {
		*ds = append(*ds, d)
	}
}

// Has 判断是否出现过某类诊断
func (ds Diagnostics) Has(c Code) bool {
	for _, d := range ds {
		if d.Code == c {
			return true
		}
	}
	return false
}
