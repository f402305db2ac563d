package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/cardx/internal/app/run"
	"github.com/John-Robertt/cardx/internal/config"
	"github.com/John-Robertt/cardx/internal/domain"
	"github.com/John-Robertt/cardx/internal/lookup"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：lookup 长时间无卡片完成时定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total int
	done  int
	ok    int
	fail  int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerDone    chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()
	ex := eff.Export

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "online"
	if ex.Offline {
		mode = "offline"
	}

	fmt.Fprintf(p.w, "[%s] cardx export (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  input: %s\n", ex.Input)
	fmt.Fprintf(p.w, "  lookup: %s (delay=%s)\n", truncate(ex.LookupURL, 120), ex.LookupDelay)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  skip_folders: %s\n", formatStringListJSON(ex.SkipFolders))
	fmt.Fprintf(p.w, "  max_copies: %d clamp_rows: %s\n", ex.MaxCopies, onOff(ex.ClampRows))
	fmt.Fprintf(p.w, "  list_name: %s\n", ex.ListName)

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s (%s)\n", ex.OutDir, ex.DumpFormat)
	fmt.Fprintf(p.w, "  cache: %s\n", ex.CacheDir)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "read":
		fmt.Fprintf(p.w, "读取: rows=%d row_errors=%d sep=%q (%s)\n",
			intField(fields, "rows"), intField(fields, "row_errors"), stringField(fields, "delimiter"), formatShortDuration(dur),
		)
	case "classify":
		p.total = intField(fields, "cards")
		fmt.Fprintf(p.w, "分类: cards=%d skipped=%d row_errors=%d listings=%d (%s)\n\n",
			p.total,
			intField(fields, "skipped"),
			intField(fields, "row_errors"),
			intField(fields, "listings"),
			formatShortDuration(dur),
		)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "lookup":
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "\n查询: resolved=%d errors=%d network_calls=%d (%s)\n",
			intField(fields, "resolved"), intField(fields, "errors"), intField(fields, "network_calls"), formatShortDuration(dur),
		)
	case "export":
		fmt.Fprintf(p.w, "导出: buckets=%d listings=%d (%s)\n",
			intField(fields, "buckets"), intField(fields, "listings"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnCardDone(idx, total int, card domain.NormalizedCard, id domain.ResolvedIdentity, err error, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	if err != nil {
		p.fail++
		kind := lookup.Kind(err)
		if kind == "" {
			kind = "error"
		}
		fmt.Fprintf(p.w, "[%d/%d] %s %s FAIL %s: %s (%s)\n",
			idx, total, card.SetCode, truncate(card.Name, 60), kind, truncate(err.Error(), 160), formatShortDuration(dur),
		)
	} else {
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s %s OK id=%d qty=%d (%s)\n",
			idx, total, card.SetCode, truncate(card.Name, 60), id.ID, card.EffectiveQuantity(), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

// Close 停止 keepalive；run 中止（没有走到最后一张卡）时也必须调用。
func (p *progressUI) Close() {
	p.mu.Lock()
	p.stopTickerLocked()
	done := p.tickerDone
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerDone = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	stop, done := p.stopCh, p.tickerDone
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
