package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	ErrCodeSourceRead      = "source_read_failed"
	ErrCodeEncoding        = "encoding_failed"
	ErrCodeDelimiter       = "delimiter_detection_failed"
	ErrCodeRowParse        = "row_parse_failed"
	ErrCodeLookupNetwork   = "lookup_network_failed"
	ErrCodeLookupFormat    = "lookup_format_invalid"
	ErrCodeCacheCorruption = "cache_corrupted"
	ErrCodeExportWrite     = "export_write_failed"
	ErrCodeConfigNotFound  = "config_not_found"
	ErrCodeConfigInvalid   = "config_invalid"
	ErrCodeScrapeFetch     = "scrape_fetch_failed"
	ErrCodeScrapeParse     = "scrape_parse_failed"
	ErrCodeCanceled        = "canceled"
)

// Bucket 名称：all 为合并导出，其余与 Format 一一对应。
const BucketAll = "all"

// BucketName 返回 Format 对应的 bucket 目录名（小写）。
func BucketName(f Format) string {
	switch f {
	case FormatOCG:
		return "ocg"
	case FormatAE:
		return "ae"
	default:
		return "tcg"
	}
}

// RunReport 是一次 export 的对外稳定输出（report.json / 非 TTY stdout JSON）。
type RunReport struct {
	Input   string `json:"input"`
	Offline bool   `json:"offline"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Fatal 非空表示整次运行中止（例如源文件不可读）；此时 Buckets 可能为空。
	FatalCode string `json:"fatal_code,omitempty"`
	FatalMsg  string `json:"fatal_msg,omitempty"`

	Summary   ReportSummary  `json:"summary"`
	Buckets   []BucketReport `json:"buckets"`
	RowErrors []RowError     `json:"row_errors"`
}

type ReportSummary struct {
	Rows         int `json:"rows"`
	Skipped      int `json:"skipped"`
	RowErrors    int `json:"row_errors"`
	Cards        int `json:"cards"`
	Resolved     int `json:"resolved"`
	LookupErrors int `json:"lookup_errors"`
	Listings     int `json:"listings"`
	NetworkCalls int `json:"network_calls"`
}

// BucketReport 描述单个 bucket 的导出结果。
type BucketReport struct {
	Name     string `json:"name"`
	Cards    int    `json:"cards"`
	Entries  int    `json:"entries"`
	Errors   int    `json:"errors"`
	ConfPath string `json:"conf_path"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) buckets 稳定排序：all 在最前，其余按名称字典序
// 3) RowErrors 计数由列表得出；nil 切片规范化为空切片（JSON 输出 []）
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Buckets, func(i, j int) bool {
		a, b := r.Buckets[i].Name, r.Buckets[j].Name
		if a == BucketAll {
			return b != BucketAll
		}
		if b == BucketAll {
			return false
		}
		return a < b
	})

	if r.Buckets == nil {
		r.Buckets = []BucketReport{}
	}
	if r.RowErrors == nil {
		r.RowErrors = []RowError{}
	}
	r.Summary.RowErrors = len(r.RowErrors)
}

// Failed 表示本次运行是否需要以非 0 退出。
func (r RunReport) Failed() bool {
	return r.FatalCode != ""
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
