package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/John-Robertt/cardx/internal/domain"
)

// DefaultDelimiter 是未声明 sep= 时使用的分隔符。
const DefaultDelimiter = ','

// Columns 是各字段所在的列下标（0-based）。
type Columns struct {
	Folder        int
	Quantity      int
	TradeQuantity int
	Name          int
	SetName       int
	SetCode       int
	Rarity        int
	Printing      int

	PriceLow    int
	PriceMid    int
	PriceMarket int
}

// DefaultColumns 对应 DragonShield 导出文件的固定列布局。
func DefaultColumns() Columns {
	return Columns{
		Folder:        0,
		Quantity:      1,
		TradeQuantity: 2,
		Name:          3,
		SetName:       5,
		SetCode:       6,
		Rarity:        7,
		Printing:      9,
		PriceLow:      13,
		PriceMid:      14,
		PriceMarket:   15,
	}
}

// required 返回必需列的最大下标；价格列缺失时按空串处理。
func (c Columns) required() int {
	m := 0
	for _, i := range []int{c.Folder, c.Quantity, c.TradeQuantity, c.Name, c.SetName, c.SetCode, c.Rarity, c.Printing} {
		if i > m {
			m = i
		}
	}
	return m
}

// Error 是读取阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	}
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

// Result 是一次读取的结果。
type Result struct {
	Delimiter rune
	// Directive 表示首行是 sep= 声明（已丢弃）。
	Directive bool
	// DelimiterErr 非空表示 sep= 声明无法识别，已回退到 ','（不中止）。
	DelimiterErr error

	Rows      []domain.InventoryRow
	RowErrors []domain.RowError
}

// ReadFile 读取并解析整个源文件。
//
// 只有文件不可读/解码失败会返回 error；单行问题记录在 Result.RowErrors 中。
func ReadFile(path string, cols Columns) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, &Error{Code: domain.ErrCodeSourceRead, Path: path, Err: err}
	}
	res, err := Parse(raw, cols)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Path == "" {
			e.Path = path
		}
		return Result{}, err
	}
	return res, nil
}

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode 把原始字节解码为文本：带 BOM 时按 BOM（UTF-8/UTF-16），否则按 UTF-8。
func Decode(raw []byte) (string, error) {
	utf16 := bytes.HasPrefix(raw, bomUTF16LE) || bytes.HasPrefix(raw, bomUTF16BE)
	if !utf16 && !utf8.Valid(raw) {
		return "", &Error{Code: domain.ErrCodeEncoding, Err: errors.New("不是合法的 UTF-8 文本")}
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	b, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), dec))
	if err != nil {
		return "", &Error{Code: domain.ErrCodeEncoding, Err: err}
	}
	return string(b), nil
}

// Parse 解析已读入内存的源文件内容。
func Parse(raw []byte, cols Columns) (Result, error) {
	text, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}

	res := Result{Delimiter: DefaultDelimiter}

	first, rest, _ := strings.Cut(text, "\n")
	body := text
	lineOffset := 0
	if sep, ok, derr := DetectDelimiter(first); ok {
		res.Directive = true
		res.Delimiter = sep
		res.DelimiterErr = derr
		body = rest
		lineOffset = 1
	}

	r := csv.NewReader(strings.NewReader(body))
	r.Comma = res.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	need := cols.required()
	header := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.RowErrors = append(res.RowErrors, domain.RowError{
					Line:    pe.StartLine + lineOffset,
					Kind:    domain.ErrCodeRowParse,
					Message: pe.Err.Error(),
				})
				continue
			}
			return Result{}, &Error{Code: domain.ErrCodeSourceRead, Err: err}
		}
		line, _ := r.FieldPos(0)
		line += lineOffset

		if blank(rec) {
			continue
		}
		if header {
			header = false
			continue
		}
		if len(rec) <= need {
			res.RowErrors = append(res.RowErrors, domain.RowError{
				Line:    line,
				Kind:    domain.ErrCodeRowParse,
				Message: fmt.Sprintf("列数不足：需要至少 %d 列，实际 %d 列", need+1, len(rec)),
			})
			continue
		}
		res.Rows = append(res.Rows, rowFrom(rec, cols, line))
	}
	return res, nil
}

// DetectDelimiter 识别首行的 sep=X 声明。
//
// ok=true 表示首行是声明（无论能否识别都应丢弃）；err 非空时 sep 为默认的 ','。
func DetectDelimiter(firstLine string) (sep rune, ok bool, err error) {
	// 只去掉换行与空格：sep=\t 的制表符本身就是分隔符。
	s := strings.Trim(strings.Trim(firstLine, " \r\n"), `"`)
	left, right, found := strings.Cut(s, "=")
	if !found || !strings.EqualFold(strings.TrimSpace(left), "sep") {
		return DefaultDelimiter, false, nil
	}

	right = strings.ReplaceAll(right, `"`, "")
	if utf8.RuneCountInString(right) != 1 {
		right = strings.TrimSpace(right)
	}
	if utf8.RuneCountInString(right) != 1 {
		return DefaultDelimiter, true, &Error{
			Code: domain.ErrCodeDelimiter,
			Err:  fmt.Errorf("无法识别的分隔符声明 %q", firstLine),
		}
	}
	r, _ := utf8.DecodeRuneInString(right)
	if r == '\r' || r == '\n' || r == utf8.RuneError {
		return DefaultDelimiter, true, &Error{
			Code: domain.ErrCodeDelimiter,
			Err:  fmt.Errorf("分隔符不可用 %q", right),
		}
	}
	return r, true, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func rowFrom(rec []string, cols Columns, line int) domain.InventoryRow {
	at := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	return domain.InventoryRow{
		Line:          line,
		Folder:        at(cols.Folder),
		Quantity:      at(cols.Quantity),
		TradeQuantity: at(cols.TradeQuantity),
		Name:          at(cols.Name),
		SetName:       at(cols.SetName),
		SetCode:       at(cols.SetCode),
		Rarity:        at(cols.Rarity),
		Printing:      at(cols.Printing),
		PriceLow:      at(cols.PriceLow),
		PriceMid:      at(cols.PriceMid),
		PriceMarket:   at(cols.PriceMarket),
	}
}
