package domain

// Format 是卡池标签（决定导出到哪个 banlist bucket）。
type Format string

const (
	FormatTCG Format = "TCG" // 默认卡池
	FormatOCG Format = "OCG"
	FormatAE  Format = "AE"
)

// Formats 是全部卡池，顺序即导出顺序。
var Formats = []Format{FormatTCG, FormatOCG, FormatAE}

// InventoryRow 是源表格中的一行原始数据（读入后不再修改）。
//
// 数值字段保留原始字符串：解析失败属于行级错误，由 classify/listing 决定如何处理。
type InventoryRow struct {
	Line int // 源文件中的物理行号（1-based，含 sep/表头行）

	Folder        string
	Quantity      string
	TradeQuantity string
	Name          string
	SetName       string
	SetCode       string
	Rarity        string
	Printing      string

	PriceLow    string
	PriceMid    string
	PriceMarket string
}

// NormalizedCard 由 InventoryRow 1:1 派生。
type NormalizedCard struct {
	Name          string `json:"name" yaml:"name"`
	SetCode       string `json:"set" yaml:"set"`
	SetCodeGlobal string `json:"set_global" yaml:"set_global"`
	Quantity      int    `json:"qty" yaml:"qty"`
	TradeQuantity int    `json:"trade_qty" yaml:"trade_qty"`
	Format        Format `json:"format" yaml:"format"`
}

// EffectiveQuantity 返回用于聚合的数量：持有数 > 0 时取持有数，否则取交易数。
func (c NormalizedCard) EffectiveQuantity() int {
	if c.Quantity > 0 {
		return c.Quantity
	}
	return c.TradeQuantity
}

// ListingRecord 是二手市场的上架记录（与 NormalizedCard 无 id 关联）。
type ListingRecord struct {
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"description" yaml:"description"`
	PriceLow    float64 `json:"price_low" yaml:"price_low"`
	PriceMid    float64 `json:"price_mid" yaml:"price_mid"`
	PriceMarket float64 `json:"price_market" yaml:"price_market"`
	Rarity      string  `json:"rarity" yaml:"rarity"`
	Quantity    int     `json:"qty" yaml:"qty"`
}

// ResolvedIdentity 是 lookup 的结果（按 cache key 持久化）。
type ResolvedIdentity struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// AggregateEntry 是按 id 合并后的条目；Quantity 为未截断的累计值。
type AggregateEntry struct {
	ID       int    `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Quantity int    `json:"qty" yaml:"qty"`
}

// ErrorEntry 记录 lookup/解析失败的卡；只用于诊断导出，不参与聚合。
type ErrorEntry struct {
	Card    NormalizedCard `json:"card" yaml:"card"`
	Kind    string         `json:"kind" yaml:"kind"`
	Message string         `json:"message" yaml:"message"`
}

// RowError 记录无法归一化的源行。
type RowError struct {
	Line    int    `json:"line" yaml:"line"`
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

func (e *RowError) Error() string {
	return e.Kind + ": " + e.Message
}
