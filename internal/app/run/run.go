package run

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/John-Robertt/cardx/internal/aggregate"
	"github.com/John-Robertt/cardx/internal/classify"
	"github.com/John-Robertt/cardx/internal/config"
	"github.com/John-Robertt/cardx/internal/domain"
	"github.com/John-Robertt/cardx/internal/export"
	"github.com/John-Robertt/cardx/internal/infra/cache"
	"github.com/John-Robertt/cardx/internal/infra/httpx"
	"github.com/John-Robertt/cardx/internal/infra/logx"
	"github.com/John-Robertt/cardx/internal/listing"
	"github.com/John-Robertt/cardx/internal/lookup"
	"github.com/John-Robertt/cardx/internal/source"
)

// Deps 是可注入的外部依赖；零值可用（按配置自行构造）。
type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Execute 执行一次 export，并返回对外稳定的 RunReport。
// 行级/卡级错误只记录不中止；只有读源文件、写导出文件失败会中止（FatalCode 非空）。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	log := deps.Logger
	if log == nil {
		log = logx.Discard()
	}
	ex := eff.Export

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		Input:     ex.Input,
		Offline:   ex.Offline,
		StartedAt: time.Now().UTC(),
	}
	fail := func(code string, err error) domain.RunReport {
		log.Error("导出中止", "code", code, "err", err)
		rr.FatalCode = code
		rr.FatalMsg = err.Error()
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	log.Info("开始导出", "input", ex.Input, "offline", ex.Offline)

	// read
	readStarted := time.Now()
	src, err := source.ReadFile(ex.Input, source.DefaultColumns())
	if err != nil {
		code := source.Code(err)
		if code == "" {
			code = domain.ErrCodeSourceRead
		}
		return fail(code, err)
	}
	if src.DelimiterErr != nil {
		log.Warn("分隔符声明无法识别，回退为逗号", "err", src.DelimiterErr)
	} else if src.Directive {
		log.Info("识别到分隔符声明", "sep", string(src.Delimiter))
	}
	rr.RowErrors = append(rr.RowErrors, src.RowErrors...)
	rr.Summary.Rows = len(src.Rows)
	if obs != nil {
		obs.OnPhaseDone("read", map[string]any{
			"rows":       len(src.Rows),
			"row_errors": len(src.RowErrors),
			"delimiter":  string(src.Delimiter),
		}, time.Since(readStarted))
	}

	// classify + listing
	classifyStarted := time.Now()
	cls := classify.New(ex.SkipFolders)
	lb := listing.New(listing.Options{
		CurrencyRate:         ex.CurrencyRate,
		BaselineRarity:       ex.BaselineRarity,
		MarketPriceFromIndex: ex.MarketPriceFromIndex,
		MarketPriceIndex:     source.DefaultColumns().PriceMarket,
		DecimalComma:         src.Delimiter == ';',
	})

	cards := make([]domain.NormalizedCard, 0, len(src.Rows))
	listings := make([]domain.ListingRecord, 0, 64)
	for _, row := range src.Rows {
		res := cls.Classify(row)
		if res.Err != nil {
			log.Warn("行解析失败", "line", res.Err.Line, "err", res.Err)
			rr.RowErrors = append(rr.RowErrors, *res.Err)
			continue
		}
		if rec, ok := lb.Build(row, res.Card.Format); ok {
			listings = append(listings, rec)
		}
		if res.Skipped {
			log.Info("跳过文件夹中的卡", "folder", row.Folder, "name", row.Name)
			rr.Summary.Skipped++
			continue
		}
		log.Debug("处理卡片", "line", row.Line, "name", res.Card.Name, "set", res.Card.SetCode, "format", res.Card.Format)
		cards = append(cards, res.Card)
	}
	rr.Summary.Cards = len(cards)
	rr.Summary.Listings = len(listings)
	if obs != nil {
		obs.OnPhaseDone("classify", map[string]any{
			"cards":      len(cards),
			"skipped":    rr.Summary.Skipped,
			"row_errors": len(rr.RowErrors),
			"listings":   len(listings),
		}, time.Since(classifyStarted))
	}

	// lookup + aggregate
	lookupStarted := time.Now()
	hc := deps.HTTPClient
	if hc == nil && !ex.Offline {
		c, err := httpx.NewClient(eff.ProxyURL, eff.Timeout)
		if err != nil {
			return fail(domain.ErrCodeConfigInvalid, fmt.Errorf("proxy.url 无效：%w", err))
		}
		hc = c
	}
	resolver := lookup.New(cache.New(ex.CacheDir, ex.Offline), hc, lookup.Options{
		Endpoint: ex.LookupURL,
		Delay:    ex.LookupDelay,
		Offline:  ex.Offline,
		Logger:   log,
	})

	all := newBucket(domain.BucketAll, ex)
	perFormat := make(map[domain.Format]*bucket, len(domain.Formats))
	for _, f := range domain.Formats {
		perFormat[f] = newBucket(domain.BucketName(f), ex)
	}

	for i, card := range cards {
		if err := ctx.Err(); err != nil {
			return fail(domain.ErrCodeCanceled, err)
		}
		oneStarted := time.Now()
		fb := perFormat[card.Format]
		all.cards = append(all.cards, card)
		fb.cards = append(fb.cards, card)

		key := domain.CacheKey(card.SetCode)
		id, err := resolver.Resolve(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return fail(domain.ErrCodeCanceled, ctx.Err())
			}
			kind := lookup.Kind(err)
			if kind == "" {
				kind = domain.ErrCodeLookupNetwork
			}
			log.Warn("lookup 失败", "name", card.Name, "key", key, "kind", kind, "err", err)
			e := domain.ErrorEntry{Card: card, Kind: kind, Message: err.Error()}
			all.errors = append(all.errors, e)
			fb.errors = append(fb.errors, e)
			rr.Summary.LookupErrors++
		} else {
			all.agg.Add(id, card)
			fb.agg.Add(id, card)
			rr.Summary.Resolved++
		}
		if obs != nil {
			obs.OnCardDone(i+1, len(cards), card, id, err, time.Since(oneStarted))
		}
	}
	rr.Summary.NetworkCalls = resolver.NetworkCalls()
	if obs != nil {
		obs.OnPhaseDone("lookup", map[string]any{
			"resolved":      rr.Summary.Resolved,
			"errors":        rr.Summary.LookupErrors,
			"network_calls": rr.Summary.NetworkCalls,
		}, time.Since(lookupStarted))
	}

	// export
	exportStarted := time.Now()
	w := export.Writer{
		OutDir:    ex.OutDir,
		ListName:  ex.ListName,
		Format:    ex.DumpFormat,
		MaxCopies: ex.MaxCopies,
	}
	buckets := []*bucket{all}
	for _, f := range domain.Formats {
		buckets = append(buckets, perFormat[f])
	}
	for _, b := range buckets {
		files, err := w.WriteBucket(export.Bucket{
			Name:    b.name,
			Cards:   b.cards,
			Entries: b.agg.Entries(),
			Errors:  b.errors,
		})
		if err != nil {
			return fail(domain.ErrCodeExportWrite, err)
		}
		log.Info("已导出", "bucket", b.name, "cards", len(b.cards), "entries", b.agg.Len(), "errors", len(b.errors), "conf", files.List)
		rr.Buckets = append(rr.Buckets, domain.BucketReport{
			Name:     b.name,
			Cards:    len(b.cards),
			Entries:  b.agg.Len(),
			Errors:   len(b.errors),
			ConfPath: files.List,
		})
	}
	if _, err := w.WriteListings(listings); err != nil {
		return fail(domain.ErrCodeExportWrite, err)
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	if _, err := w.WriteReport(rr); err != nil {
		return fail(domain.ErrCodeExportWrite, err)
	}
	if obs != nil {
		obs.OnPhaseDone("export", map[string]any{
			"buckets":  len(rr.Buckets),
			"listings": len(listings),
		}, time.Since(exportStarted))
	}
	log.Info("导出完成", "cards", rr.Summary.Cards, "resolved", rr.Summary.Resolved, "lookup_errors", rr.Summary.LookupErrors, "network_calls", rr.Summary.NetworkCalls)
	return rr
}

type bucket struct {
	name   string
	cards  []domain.NormalizedCard
	errors []domain.ErrorEntry
	agg    *aggregate.Aggregator
}

func newBucket(name string, ex config.ExportConfig) *bucket {
	return &bucket{
		name: name,
		agg:  aggregate.New(ex.MaxCopies, ex.ClampRows),
	}
}
