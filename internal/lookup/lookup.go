// Package lookup 把 set code 解析为卡片 id：先查磁盘缓存，未命中再请求远端（每个 key 每次运行至多一次）。
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/cardx/internal/domain"
	"github.com/John-Robertt/cardx/internal/infra/cache"
	"github.com/John-Robertt/cardx/internal/infra/logx"
)

const (
	KindNetwork      = domain.ErrCodeLookupNetwork
	KindFormat       = domain.ErrCodeLookupFormat
	KindCacheCorrupt = domain.ErrCodeCacheCorruption
)

// Error 是 lookup 失败的分类错误。
type Error struct {
	Kind string
	Key  string
	// Status 是远端 HTTP 状态码（未发出请求或传输失败时为 0）。
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s：%s：HTTP %d：%v", e.Kind, e.Key, e.Status, e.Err)
	}
	return fmt.Sprintf("%s：%s：%v", e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind 从 error 中提取分类；若不是 *Error 则返回空串。
func Kind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ErrOffline 表示离线模式下缓存未命中。
var ErrOffline = errors.New("离线模式：缓存未命中")

type Options struct {
	// Endpoint 是 lookup 接口地址（不含查询参数）。
	Endpoint string
	// Delay 是每次网络请求结束后的等待时间（从响应返回开始计）；缓存命中不受影响。
	Delay time.Duration
	// Offline=true 时只读缓存，从不发网络请求。
	Offline bool
	Logger  *slog.Logger
}

type memoEntry struct {
	id  domain.ResolvedIdentity
	err error
}

// Resolver 串行使用（单 goroutine），不做加锁。
type Resolver struct {
	store   cache.Store
	client  *resty.Client
	limiter *rate.Limiter
	opt     Options
	log     *slog.Logger

	memo  map[string]memoEntry
	calls int
}

// New 构造 Resolver。hc 为 nil 时使用 http.DefaultClient。
func New(store cache.Store, hc *http.Client, opt Options) *Resolver {
	if hc == nil {
		hc = http.DefaultClient
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opt.Delay > 0 {
		lim = rate.NewLimiter(rate.Every(opt.Delay), 1)
	}
	lg := opt.Logger
	if lg == nil {
		lg = logx.Discard()
	}
	return &Resolver{
		store:   store,
		client:  resty.NewWithClient(hc),
		limiter: lim,
		opt:     opt,
		log:     lg,
		memo:    make(map[string]memoEntry, 256),
	}
}

// NetworkCalls 返回本次运行实际发出的远端请求数。
func (r *Resolver) NetworkCalls() int { return r.calls }

// Resolve 解析 cache key。成功与失败都会被记住：同一 key 在一次运行中只处理一次。
func (r *Resolver) Resolve(ctx context.Context, key string) (domain.ResolvedIdentity, error) {
	if m, ok := r.memo[key]; ok {
		return m.id, m.err
	}
	id, err := r.resolve(ctx, key)
	// ctx 取消不是 key 本身的问题，不记忆。
	if ctx.Err() == nil {
		r.memo[key] = memoEntry{id: id, err: err}
	}
	return id, err
}

func (r *Resolver) resolve(ctx context.Context, key string) (domain.ResolvedIdentity, error) {
	if _, err := r.store.Path(key); err != nil {
		return domain.ResolvedIdentity{}, &Error{Kind: KindFormat, Key: key, Err: err}
	}
	body, hit, err := r.store.Read(key)
	if err != nil {
		return domain.ResolvedIdentity{}, &Error{Kind: KindCacheCorrupt, Key: key, Err: err}
	}
	if hit {
		id, perr := ParseIdentity(body)
		if perr != nil {
			if rerr := r.store.Remove(key); rerr != nil {
				r.log.Warn("删除坏缓存失败", "key", key, "err", rerr)
			}
			r.log.Warn("缓存文件损坏，已删除", "key", key, "err", perr)
			return domain.ResolvedIdentity{}, &Error{Kind: KindCacheCorrupt, Key: key, Err: perr}
		}
		r.log.Debug("使用缓存", "key", key, "id", id.ID)
		return id, nil
	}

	if r.opt.Offline {
		return domain.ResolvedIdentity{}, &Error{Kind: KindNetwork, Key: key, Err: ErrOffline}
	}

	body, err = r.fetch(ctx, key)
	if err != nil {
		return domain.ResolvedIdentity{}, err
	}
	id, perr := ParseIdentity(body)
	if perr != nil {
		return domain.ResolvedIdentity{}, &Error{Kind: KindFormat, Key: key, Err: perr}
	}
	if werr := r.store.Write(key, body); werr != nil {
		// 写缓存失败不影响本次结果，只是下次还要再请求一次。
		r.log.Warn("写入缓存失败", "key", key, "err", werr)
	}
	r.log.Info("已解析", "key", key, "id", id.ID, "name", id.Name)
	return id, nil
}

func (r *Resolver) fetch(ctx context.Context, key string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindNetwork, Key: key, Err: err}
	}
	r.calls++

	u := RequestURL(r.opt.Endpoint, key)
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(u)
	r.restartDelay()
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Key: key, Err: err}
	}
	if !resp.IsSuccess() {
		r.log.Warn("lookup 返回非 2xx", "key", key, "status", resp.StatusCode())
		return nil, &Error{
			Kind:   KindNetwork,
			Key:    key,
			Status: resp.StatusCode(),
			Err:    errors.New(strings.TrimSpace(resp.Status())),
		}
	}
	return resp.Body(), nil
}

// restartDelay 在每次网络请求结束时重新计时：下一次请求最早在 Delay 之后发出，
// 与本次请求耗时无关。
func (r *Resolver) restartDelay() {
	if r.opt.Delay <= 0 {
		return
	}
	r.limiter = rate.NewLimiter(rate.Every(r.opt.Delay), 1)
	r.limiter.Reserve()
}

// RequestURL 拼出 lookup 请求地址。includeAliased 是无值参数，因此不用 url.Values 编码。
func RequestURL(endpoint, key string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "setcode=" + url.QueryEscape(key) + "&includeAliased&num=1&offset=0"
}

// ParseIdentity 解析 lookup 响应（也是缓存文件内容）。
// id 可以是数字或数字字符串；缺少 id 视为格式错误。
func ParseIdentity(body []byte) (domain.ResolvedIdentity, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return domain.ResolvedIdentity{}, fmt.Errorf("响应不是 JSON 对象：%w", err)
	}
	raw, ok := m["id"]
	if !ok || raw == nil {
		return domain.ResolvedIdentity{}, errors.New("响应缺少 id")
	}

	var id int
	switch v := raw.(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return domain.ResolvedIdentity{}, fmt.Errorf("id 无效 %q", v.String())
		}
		id = n
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return domain.ResolvedIdentity{}, fmt.Errorf("id 无效 %q", v)
		}
		id = n
	default:
		return domain.ResolvedIdentity{}, fmt.Errorf("id 类型无效 %T", raw)
	}

	name, _ := m["name"].(string)
	return domain.ResolvedIdentity{ID: id, Name: name}, nil
}
