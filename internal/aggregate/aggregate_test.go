package aggregate

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/cardx/internal/domain"
)

func card(qty, trade int) domain.NormalizedCard {
	return domain.NormalizedCard{Quantity: qty, TradeQuantity: trade}
}

func TestAdd_MergesByIDAndClampsOnlyAtEmission(t *testing.T) {
	a := New(3, false)
	a.Add(domain.ResolvedIdentity{ID: 12345, Name: "Card A"}, card(2, 0))
	a.Add(domain.ResolvedIdentity{ID: 12345, Name: "Card A (alt)"}, card(4, 0))

	want := []domain.AggregateEntry{{ID: 12345, Name: "Card A", Quantity: 6}}
	if diff := cmp.Diff(want, a.Entries()); diff != "" {
		t.Fatalf("累计结果不符合预期 (-want +got):\n%s", diff)
	}
	if got := a.Clamped()[0].Quantity; got != 3 {
		t.Fatalf("导出数量应截断为 3，实际 %d", got)
	}
}

func TestAdd_RunningTotalNotClamped(t *testing.T) {
	a := New(3, false)
	a.Add(domain.ResolvedIdentity{ID: 1, Name: "A"}, card(2, 0))
	a.Add(domain.ResolvedIdentity{ID: 1, Name: "A"}, card(3, 0))
	a.Add(domain.ResolvedIdentity{ID: 1, Name: "A"}, card(1, 0))

	if got := a.Entries()[0].Quantity; got != 6 {
		t.Fatalf("累计值不应截断：期望 6，实际 %d", got)
	}
	if got := a.Clamped()[0].Quantity; got != 3 {
		t.Fatalf("导出值应截断：期望 3，实际 %d", got)
	}
}

func TestAdd_ClampRows(t *testing.T) {
	a := New(3, true)
	a.Add(domain.ResolvedIdentity{ID: 12345, Name: "Card A"}, card(2, 0))
	a.Add(domain.ResolvedIdentity{ID: 12345, Name: "Card A"}, card(4, 0))

	if got := a.Entries()[0].Quantity; got != 5 {
		t.Fatalf("单行截断后累计：期望 2+3=5，实际 %d", got)
	}
	if got := a.Clamped()[0].Quantity; got != 3 {
		t.Fatalf("导出值应截断：期望 3，实际 %d", got)
	}
}

func TestAdd_TradeQuantityFallback(t *testing.T) {
	a := New(3, false)
	a.Add(domain.ResolvedIdentity{ID: 12345, Name: "Card A"}, card(0, 2))
	a.Add(domain.ResolvedIdentity{ID: 99, Name: "B"}, card(0, 0))

	want := []domain.AggregateEntry{
		{ID: 12345, Name: "Card A", Quantity: 2},
		{ID: 99, Name: "B", Quantity: 0},
	}
	if diff := cmp.Diff(want, a.Clamped()); diff != "" {
		t.Fatalf("结果不符合预期 (-want +got):\n%s", diff)
	}
}

func TestEntries_FirstSeenOrderAndCopy(t *testing.T) {
	a := New(3, false)
	for _, id := range []int{30, 10, 20, 10, 30} {
		a.Add(domain.ResolvedIdentity{ID: id}, card(1, 0))
	}
	got := a.Entries()
	ids := []int{got[0].ID, got[1].ID, got[2].ID}
	if diff := cmp.Diff([]int{30, 10, 20}, ids); diff != "" {
		t.Fatalf("顺序不符合首次出现 (-want +got):\n%s", diff)
	}
	if a.Len() != 3 {
		t.Fatalf("期望 3 个 id，实际 %d", a.Len())
	}

	got[0].Quantity = 100
	if a.Entries()[0].Quantity != 2 {
		t.Fatalf("Entries 应返回副本")
	}
}

func TestAdd_CommutativeTotals(t *testing.T) {
	type in struct {
		id  int
		qty int
	}
	rows := []in{{1, 2}, {2, 5}, {1, 1}, {3, 0}, {2, 2}, {1, 4}, {4, 1}, {3, 3}}

	totals := func(rows []in) map[int]int {
		a := New(3, false)
		for _, r := range rows {
			a.Add(domain.ResolvedIdentity{ID: r.id}, card(r.qty, 1))
		}
		m := map[int]int{}
		for _, e := range a.Entries() {
			m[e.ID] = e.Quantity
		}
		return m
	}

	want := totals(rows)
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]in(nil), rows...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if diff := cmp.Diff(want, totals(shuffled)); diff != "" {
			t.Fatalf("合并结果应与顺序无关 (-want +got):\n%s", diff)
		}
	}

	keys := make([]int, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	if diff := cmp.Diff([]int{1, 2, 3, 4}, keys); diff != "" {
		t.Fatalf("id 集合不符合预期 (-want +got):\n%s", diff)
	}
}

func TestNew_DefaultMax(t *testing.T) {
	a := New(0, false)
	a.Add(domain.ResolvedIdentity{ID: 1}, card(9, 0))
	if got := a.Clamped()[0].Quantity; got != DefaultMax {
		t.Fatalf("max<1 时应使用默认值 %d，实际 %d", DefaultMax, got)
	}
}
