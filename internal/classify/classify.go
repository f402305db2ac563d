// Package classify 把源表格的一行归一化为 NormalizedCard，并决定它属于哪个卡池。
package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/cardx/internal/domain"
)

// Result 是单行的归一化结果：Err 非空时 Card 无意义。
type Result struct {
	Card domain.NormalizedCard
	// Skipped 表示该行来自跳过列表中的文件夹：不进入任何 bucket，也不参与聚合。
	Skipped bool
	Err     *domain.RowError
}

// Classifier 持有跳过列表（精确匹配，trim 后比较）。
type Classifier struct {
	skip map[string]struct{}
}

func New(skipFolders []string) *Classifier {
	m := make(map[string]struct{}, len(skipFolders))
	for _, s := range skipFolders {
		if s = strings.TrimSpace(s); s != "" {
			m[s] = struct{}{}
		}
	}
	return &Classifier{skip: m}
}

// Skips 判断文件夹是否在跳过列表中。
func (c *Classifier) Skips(folder string) bool {
	_, ok := c.skip[strings.TrimSpace(folder)]
	return ok
}

// FormatOf 按文件夹前缀（大小写不敏感）判定卡池：OCG… → OCG，AE… → AE，其余 → TCG。
func FormatOf(folder string) domain.Format {
	f := strings.ToUpper(strings.TrimSpace(folder))
	switch {
	case strings.HasPrefix(f, "OCG"):
		return domain.FormatOCG
	case strings.HasPrefix(f, "AE"):
		return domain.FormatAE
	default:
		return domain.FormatTCG
	}
}

// Classify 归一化一行。解析失败不会 panic，而是返回带 RowError 的 Result。
//
// 跳过列表中的行不做数值校验（与其他行一样仍会交给 listing）。
func (c *Classifier) Classify(row domain.InventoryRow) Result {
	if c.Skips(row.Folder) {
		return Result{
			Card: domain.NormalizedCard{
				Name:    row.Name,
				SetCode: row.SetCode,
				Format:  FormatOf(row.Folder),
			},
			Skipped: true,
		}
	}

	qty, err := parseCount(row.Quantity)
	if err != nil {
		return rowErr(row, fmt.Sprintf("数量无效 %q", row.Quantity))
	}
	trade, err := parseCount(row.TradeQuantity)
	if err != nil {
		return rowErr(row, fmt.Sprintf("交易数量无效 %q", row.TradeQuantity))
	}
	global, err := domain.GlobalSetCode(row.SetCode)
	if err != nil {
		return rowErr(row, err.Error())
	}

	return Result{
		Card: domain.NormalizedCard{
			Name:          row.Name,
			SetCode:       row.SetCode,
			SetCodeGlobal: global,
			Quantity:      qty,
			TradeQuantity: trade,
			Format:        FormatOf(row.Folder),
		},
	}
}

// parseCount 解析整数数量；空串视为 0。
func parseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func rowErr(row domain.InventoryRow, msg string) Result {
	return Result{Err: &domain.RowError{
		Line:    row.Line,
		Kind:    domain.ErrCodeRowParse,
		Message: msg,
	}}
}
