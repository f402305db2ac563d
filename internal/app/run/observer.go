package run

import (
	"time"

	"github.com/John-Robertt/cardx/internal/config"
	"github.com/John-Robertt/cardx/internal/domain"
)

// Observer 用于把“运行进度/阶段/单卡结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件都在调用 ExecuteWithObserver 的 goroutine 上按顺序发出；实现若另起 ticker，需要自行加锁。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（read/classify/lookup/export）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnCardDone 在一张卡的 lookup 结束时调用；err 非空表示该卡进入 cards_with_error。
	OnCardDone(idx, total int, card domain.NormalizedCard, id domain.ResolvedIdentity, err error, dur time.Duration)
}
