// Package listing 从源表格行派生二手市场上架记录。
package listing

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/John-Robertt/cardx/internal/domain"
)

// Options 控制价格换算与筛选。
type Options struct {
	// CurrencyRate 是价格换算倍率（源表格价格 × CurrencyRate）。
	CurrencyRate float64
	// BaselineRarity 是不上架的基础稀有度（默认 Common）。
	BaselineRarity string
	// MarketPriceFromIndex=true 时 price_market 写入市场价所在的列下标，
	// 而不是换算后的价格（保留旧导出文件的行为，下游可能依赖）。
	MarketPriceFromIndex bool
	// MarketPriceIndex 是市场价所在的列下标。
	MarketPriceIndex int
	// DecimalComma=true 时 ',' 是小数点、'.' 是千分位（sep=; 的欧洲区域导出）。
	DecimalComma bool
}

// Builder 是无状态的上架记录构造器。
type Builder struct {
	rate decimal.Decimal
	opt  Options
}

func New(opt Options) *Builder {
	return &Builder{
		rate: decimal.NewFromFloat(opt.CurrencyRate),
		opt:  opt,
	}
}

// Eligible 判断一行是否应上架：默认卡池（TCG）且稀有度不是基础稀有度。
func (b *Builder) Eligible(format domain.Format, rarity string) bool {
	if format != domain.FormatTCG {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(rarity), strings.TrimSpace(b.opt.BaselineRarity))
}

// Build 为合格的行构造 ListingRecord；不合格时 ok=false。
func (b *Builder) Build(row domain.InventoryRow, format domain.Format) (rec domain.ListingRecord, ok bool) {
	if !b.Eligible(format, row.Rarity) {
		return domain.ListingRecord{}, false
	}

	qty := count(row.Quantity)
	if qty <= 0 {
		qty = count(row.TradeQuantity)
	}

	rec = domain.ListingRecord{
		Title:       Title(row),
		Description: Description(row, qty),
		PriceLow:    b.Convert(row.PriceLow),
		PriceMid:    b.Convert(row.PriceMid),
		Rarity:      row.Rarity,
		Quantity:    qty,
	}
	if b.opt.MarketPriceFromIndex {
		rec.PriceMarket = float64(b.opt.MarketPriceIndex)
	} else {
		rec.PriceMarket = b.Convert(row.PriceMarket)
	}
	return rec, true
}

// Convert 解析价格（去掉货币符号与千分位），乘以换算倍率并保留两位小数。
// 空串或无法解析时返回 0。
func (b *Builder) Convert(raw string) float64 {
	d, ok := parsePrice(raw, b.opt.DecimalComma)
	if !ok {
		return 0
	}
	return d.Mul(b.rate).Round(2).InexactFloat64()
}

func parsePrice(raw string, decimalComma bool) (decimal.Decimal, bool) {
	if !decimalComma {
		decimalComma = commaIsDecimal(raw)
	}

	var sb strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		case r == '.' && !decimalComma:
			sb.WriteRune(r)
		case r == ',' && decimalComma:
			sb.WriteRune('.')
		}
	}
	s := sb.String()
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// commaIsDecimal 推断未声明区域时 ',' 是否为小数点：
// "1.234,50"（逗号在最后一个 '.' 之后）或 "1,50"（唯一逗号后恰好两位）。
// "$1,000"、"$1,203.40" 中的逗号仍是千分位。
func commaIsDecimal(raw string) bool {
	comma := strings.LastIndex(raw, ",")
	if comma < 0 {
		return false
	}
	if dot := strings.LastIndex(raw, "."); dot >= 0 {
		return comma > dot
	}
	return strings.Count(raw, ",") == 1 && digits(strings.TrimSpace(raw[comma+1:])) == 2
}

// digits 返回 s 开头连续数字的个数；s 中还有其他数字时返回 -1。
func digits(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if strings.ContainsAny(s[n:], "0123456789") {
		return -1
	}
	return n
}

// Title 形如 "Dark Magician - LOB-EN005 - Ultra Rare (1st Edition)"；
// 版次为空或 Normal 时不带括号部分。
func Title(row domain.InventoryRow) string {
	t := row.Name + " - " + row.SetCode + " - " + row.Rarity
	if p := strings.TrimSpace(row.Printing); p != "" && !strings.EqualFold(p, "Normal") {
		t += " (" + p + ")"
	}
	return t
}

// Description 是多行的人类可读描述。
func Description(row domain.InventoryRow, qty int) string {
	var sb strings.Builder
	line := func(k, v string) {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	line("Name", row.Name)
	line("Set", row.SetName)
	line("Set Code", row.SetCode)
	line("Rarity", row.Rarity)
	line("Printing", row.Printing)
	line("Quantity", strconv.Itoa(qty))
	return strings.TrimSuffix(sb.String(), "\n")
}

func count(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
