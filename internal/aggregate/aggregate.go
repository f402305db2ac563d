// Package aggregate 按卡片 id 合并数量，保持首次出现的顺序。
package aggregate

import "github.com/John-Robertt/cardx/internal/domain"

// DefaultMax 是单个 id 允许的最大张数（EDOPro 规则）。
const DefaultMax = 3

// Aggregator 累加数量：累计值不截断，导出时（Clamped）再截断到 max。
//
// clampRows=true 时单行数量先截断到 max 再累加（旧导出脚本的做法）；
// 两种方式生成的 lflist.conf 完全相同，只影响 conf_cards.json 中的累计值。
type Aggregator struct {
	max       int
	clampRows bool
	index     map[int]int
	entries   []domain.AggregateEntry
}

// New 构造 Aggregator；max<1 时使用 DefaultMax。
func New(max int, clampRows bool) *Aggregator {
	if max < 1 {
		max = DefaultMax
	}
	return &Aggregator{
		max:       max,
		clampRows: clampRows,
		index:     make(map[int]int, 256),
	}
}

// Add 合并一张卡；首次出现的 name 作为该 id 的名称。
func (a *Aggregator) Add(id domain.ResolvedIdentity, card domain.NormalizedCard) {
	qty := card.EffectiveQuantity()
	if a.clampRows && qty > a.max {
		qty = a.max
	}
	if i, ok := a.index[id.ID]; ok {
		a.entries[i].Quantity += qty
		return
	}
	a.index[id.ID] = len(a.entries)
	a.entries = append(a.entries, domain.AggregateEntry{
		ID:       id.ID,
		Name:     id.Name,
		Quantity: qty,
	})
}

// Len 返回不同 id 的数量。
func (a *Aggregator) Len() int { return len(a.entries) }

// Entries 返回未截断的累计结果（首次出现顺序）。返回副本。
func (a *Aggregator) Entries() []domain.AggregateEntry {
	out := make([]domain.AggregateEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Clamped 返回导出用结果：数量截断到 max（首次出现顺序）。
func (a *Aggregator) Clamped() []domain.AggregateEntry {
	out := a.Entries()
	for i := range out {
		if out[i].Quantity > a.max {
			out[i].Quantity = a.max
		}
	}
	return out
}
