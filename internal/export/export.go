// Package export 把一次导出的结果写成文件：每个 bucket 一个目录（记录 dump + lflist.conf），
// 外加 listings 与 report。所有写入都是整文件原子替换。
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/cardx/internal/domain"
	"github.com/John-Robertt/cardx/internal/infra/fsx"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// 固定文件名（不含扩展名的部分与旧导出脚本保持一致）。
const (
	cardsBase    = "cards"
	confBase     = "conf_cards"
	errorsBase   = "cards_with_error"
	listingsBase = "listings"
	ReportFile   = "report.json"
)

// Error 是导出阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s：%q：%v", e.Code, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Bucket 是一个导出分组（all/tcg/ocg/ae）。
type Bucket struct {
	Name string

	Cards []domain.NormalizedCard
	// Entries 是未截断的累计值（写入 conf_cards）；lflist.conf 在写入时截断。
	Entries []domain.AggregateEntry
	Errors  []domain.ErrorEntry
}

// Writer 负责落盘。
type Writer struct {
	OutDir   string
	ListName string
	// Format 是记录 dump 的格式：json（默认）或 yaml。lflist.conf 始终是文本。
	Format string
	// MaxCopies 是 lflist.conf 中单个 id 的最大张数。
	MaxCopies int
}

// BucketFiles 记录一个 bucket 实际写出的文件路径。
type BucketFiles struct {
	Cards  string
	Conf   string
	Errors string
	List   string
}

// WriteBucket 写出 <OutDir>/<bucket>/ 下的全部文件。
func (w Writer) WriteBucket(b Bucket) (BucketFiles, error) {
	dir := filepath.Join(w.OutDir, b.Name)
	var out BucketFiles

	var err error
	if out.Cards, err = w.writeDump(dir, cardsBase, nonNil(b.Cards)); err != nil {
		return out, err
	}
	if out.Conf, err = w.writeDump(dir, confBase, nonNil(b.Entries)); err != nil {
		return out, err
	}
	if out.Errors, err = w.writeDump(dir, errorsBase, nonNil(b.Errors)); err != nil {
		return out, err
	}

	name := ConfFileName(w.ListName)
	if err := fsx.WriteFileAtomicReplace(dir, name, Conf(w.ListName, b.Entries, w.MaxCopies)); err != nil {
		return out, &Error{Code: domain.ErrCodeExportWrite, Path: filepath.Join(dir, name), Err: err}
	}
	out.List = filepath.Join(dir, name)
	return out, nil
}

// WriteListings 写出 <OutDir>/listings.<ext>。
func (w Writer) WriteListings(recs []domain.ListingRecord) (string, error) {
	return w.writeDump(w.OutDir, listingsBase, nonNil(recs))
}

// WriteReport 写出 <OutDir>/report.json（固定 JSON，与 stdout 输出一致）。
func (w Writer) WriteReport(rr domain.RunReport) (string, error) {
	b, err := EncodeJSON(rr)
	if err != nil {
		return "", &Error{Code: domain.ErrCodeExportWrite, Path: filepath.Join(w.OutDir, ReportFile), Err: err}
	}
	if err := fsx.WriteFileAtomicReplace(w.OutDir, ReportFile, b); err != nil {
		return "", &Error{Code: domain.ErrCodeExportWrite, Path: filepath.Join(w.OutDir, ReportFile), Err: err}
	}
	return filepath.Join(w.OutDir, ReportFile), nil
}

func (w Writer) writeDump(dir, base string, v any) (string, error) {
	format := w.Format
	if format == "" {
		format = FormatJSON
	}
	name := base + "." + format
	path := filepath.Join(dir, name)

	b, err := Encode(format, v)
	if err != nil {
		return "", &Error{Code: domain.ErrCodeExportWrite, Path: path, Err: err}
	}
	if err := fsx.WriteFileAtomicReplace(dir, name, b); err != nil {
		return "", &Error{Code: domain.ErrCodeExportWrite, Path: path, Err: err}
	}
	return path, nil
}

// Encode 按格式序列化。
func Encode(format string, v any) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return EncodeJSON(v)
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("未知的导出格式 %q", format)
	}
}

// EncodeJSON 以 4 空格缩进输出 JSON，不转义 HTML 字符（卡名里常见 &）。
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ConfFileName 由列表名生成 lflist 文件名："My Cards" → "MyCards.lflist.conf"。
func ConfFileName(listName string) string {
	n := strings.Join(strings.Fields(listName), "")
	if n == "" {
		n = "MyCards"
	}
	return n + ".lflist.conf"
}

// Conf 生成 EDOPro lflist.conf 文本。
//
// 头部固定三行；之后每个条目一行 "<id> <qty> #<name>"，qty 截断到 max，
// 只输出 id>0 且 qty>0 的条目。
func Conf(listName string, entries []domain.AggregateEntry, max int) []byte {
	var sb strings.Builder
	sb.WriteString("#[" + listName + "]\n")
	sb.WriteString("!" + listName + "\n")
	sb.WriteString("$whitelist\n")
	for _, e := range entries {
		qty := e.Quantity
		if max > 0 && qty > max {
			qty = max
		}
		if e.ID <= 0 || qty <= 0 {
			continue
		}
		sb.WriteString(strconv.Itoa(e.ID))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(qty))
		sb.WriteString(" #")
		sb.WriteString(e.Name)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
