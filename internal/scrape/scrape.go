// Package scrape 抓取卡表页面并把每张卡写成一个 JSON 文件。
//
// Fetch 只负责取回 HTML（不解析）；Parse 是纯函数：相同输入 => 相同输出。
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/John-Robertt/cardx/internal/domain"
	"github.com/John-Robertt/cardx/internal/export"
	"github.com/John-Robertt/cardx/internal/infra/fsx"
	"github.com/John-Robertt/cardx/internal/infra/logx"
)

// Error 是 scrape 阶段的可追溯错误（Stage: fetch/parse/write）。
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage=%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 把错误归类为 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	switch e.Stage {
	case "fetch":
		return domain.ErrCodeScrapeFetch
	case "parse":
		return domain.ErrCodeScrapeParse
	default:
		return domain.ErrCodeExportWrite
	}
}

type Options struct {
	BaseURL string
	Series  string
	OutDir  string
	// UseCache=true：CacheFile 存在时直接读取；否则请求后写入 CacheFile。
	UseCache  bool
	CacheFile string
	Logger    *slog.Logger
}

// Result 汇总一次 scrape。
type Result struct {
	FromCache bool     `json:"from_cache"`
	Cards     int      `json:"cards"`
	Files     []string `json:"files"`
}

// Run 执行 fetch（或读缓存）→ parse → write。
func Run(ctx context.Context, c *http.Client, opt Options) (Result, error) {
	log := opt.Logger
	if log == nil {
		log = logx.Discard()
	}

	var (
		body []byte
		res  Result
	)
	if opt.UseCache && opt.CacheFile != "" {
		b, err := os.ReadFile(opt.CacheFile)
		switch {
		case err == nil:
			log.Info("读取缓存的卡表", "file", opt.CacheFile)
			body = b
			res.FromCache = true
		case !os.IsNotExist(err):
			return Result{}, &Error{Stage: "fetch", Err: err}
		}
	}

	if !res.FromCache {
		log.Info("请求卡表", "series", opt.Series)
		b, err := Fetch(ctx, c, opt.BaseURL, opt.Series)
		if err != nil {
			return Result{}, err
		}
		body = b
		if opt.UseCache && opt.CacheFile != "" {
			if err := fsx.WriteFileAtomicReplace(filepath.Dir(opt.CacheFile), filepath.Base(opt.CacheFile), body); err != nil {
				log.Warn("写入卡表缓存失败", "file", opt.CacheFile, "err", err)
			}
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{}, &Error{Stage: "fetch", Err: errors.New("卡表内容为空")}
	}

	cards, err := Parse(body, opt.BaseURL)
	if err != nil {
		return Result{}, err
	}
	log.Info("解析卡表完成", "cards", len(cards))

	files, err := Write(opt.OutDir, cards)
	if err != nil {
		return Result{}, err
	}
	res.Cards = len(cards)
	res.Files = files
	return res, nil
}

// Fetch 以 POST <base>/cardlist/ 查询某个系列的卡表。
func Fetch(ctx context.Context, c *http.Client, baseURL, series string) ([]byte, error) {
	if c == nil {
		return nil, &Error{Stage: "fetch", Err: errors.New("http client 不能为空")}
	}
	u := strings.TrimRight(baseURL, "/") + "/cardlist/"
	payload, err := json.Marshal(map[string]string{
		"series":    series,
		"freewords": "",
	})
	if err != nil {
		return nil, &Error{Stage: "fetch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Stage: "fetch", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, &Error{Stage: "fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Stage: "fetch", Err: &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Status: resp.Status}}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Stage: "fetch", Err: err}
	}
	return b, nil
}

// Parse 把卡表 HTML 解析为 ListCard 列表（页面顺序）。
func Parse(body []byte, baseURL string) ([]domain.ListCard, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Stage: "parse", Err: err}
	}
	col := doc.Find("div.resultCol").First()
	if col.Length() == 0 {
		return nil, &Error{Stage: "parse", Err: errors.New("未找到 div.resultCol")}
	}

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	cards := make([]domain.ListCard, 0, 128)
	col.Find("dl.modalCol").Each(func(_ int, s *goquery.Selection) {
		var card domain.ListCard

		// 只有恰好 3 个 span（set | rarity | type）时才认为信息完整。
		if spans := s.Find("div.infoCol span"); spans.Length() == 3 {
			card.Set = strings.TrimSpace(spans.Eq(0).Text())
			card.Rarity = strings.TrimSpace(spans.Eq(1).Text())
			card.Type = strings.TrimSpace(spans.Eq(2).Text())
		}

		card.Image = imageURL(base, s.Find("div.frontCol img").First())
		card.Name = strings.TrimSpace(s.Find("div.cardName").First().Text())
		card.Cost = lastText(s.Find("div.cost").First())
		card.Power = lastText(s.Find("div.power").First())
		card.Color = lastText(s.Find("div.color").First())
		card.Counter = lastText(s.Find("div.counter").First())
		card.Attribute = strings.TrimSpace(s.Find("div.attribute i").First().Text())
		card.Feature = lastText(s.Find("div.feature").First())
		card.Text = strings.TrimSpace(s.Find("div.text").First().Text())

		cards = append(cards, card)
	})
	return cards, nil
}

// imageURL 取 src（懒加载时回退 data-src），去掉开头的 . \ / 后拼到站点根。
func imageURL(base string, img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		return ""
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	src = strings.TrimLeft(src, ".")
	src = strings.TrimLeft(src, `\`)
	src = strings.TrimLeft(src, "/")
	return base + "/" + src
}

// lastText 返回标签 <h3> 之后最后一个非空子节点的文本；只有标签没有值时返回空串。
func lastText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	for n := s.Nodes[0].LastChild; n != nil; n = n.PrevSibling {
		var t string
		switch n.Type {
		case html.TextNode:
			t = n.Data
		case html.ElementNode:
			if n.DataAtom == atom.H3 {
				return ""
			}
			t = goquery.NewDocumentFromNode(n).Text()
		default:
			continue
		}
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// Write 把每张卡写成 <outDir>/<set>.json（4 空格缩进）。返回写出的文件路径。
//
// set 为空时退回到卡名；同一次运行里重名的文件追加 _2、_3…，避免互相覆盖。
func Write(outDir string, cards []domain.ListCard) ([]string, error) {
	files := make([]string, 0, len(cards))
	used := make(map[string]int, len(cards))
	for i, card := range cards {
		base := FileBase(card)
		if base == "" {
			base = "card_" + strconv.Itoa(i+1)
		}
		used[base]++
		if n := used[base]; n > 1 {
			base += "_" + strconv.Itoa(n)
		}

		b, err := export.EncodeJSON(card)
		if err != nil {
			return files, &Error{Stage: "write", Err: err}
		}
		name := base + ".json"
		if err := fsx.WriteFileAtomicReplace(outDir, name, b); err != nil {
			return files, &Error{Stage: "write", Err: err}
		}
		files = append(files, filepath.Join(outDir, name))
	}
	return files, nil
}

// FileBase 返回卡片输出文件名（不含扩展名）：优先 set，其次卡名；只保留安全字符。
func FileBase(card domain.ListCard) string {
	if s := sanitize(card.Set); s != "" {
		return s
	}
	return sanitize(card.Name)
}

func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return strings.Trim(sb.String(), "._")
}
