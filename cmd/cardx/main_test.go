package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/John-Robertt/cardx/internal/domain"
)

const cliCSV = "sep=,\n" +
	"Folder Name,Quantity,Trade Quantity,Card Name,Set Code,Set Name,Card Number,Rarity,Language,Printing,Condition,Price Bought,Date Bought,LOW,MID,MARKET\n" +
	"Main Binder,0,2,Card A,LOB,Legend of Blue Eyes,LOB-EN001,Ultra Rare,English,1st Edition,Near Mint,0,2021-01-01,$1.00,$2.00,$3.00\n" +
	"AE Binder,1,0,Missing Card,ZZZ,Unknown,ZZZ-AE001,Rare,English,Normal,Near Mint,0,2021-01-01,,,\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入 %s 失败：%v", path, err)
	}
}

func runCLI(t *testing.T, cwd string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), cwd, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// decodeSingleReport 断言 stdout 恰好是一个 RunReport JSON。
func decodeSingleReport(t *testing.T, stdout string) domain.RunReport {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(stdout))
	var rr domain.RunReport
	if err := dec.Decode(&rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Fatalf("stdout 只能包含一个 JSON，实际：%q", stdout)
	}
	return rr
}

func TestCLI_ExportOffline_StdoutOnlyRunReportJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cards.csv"), cliCSV)
	writeFile(t, filepath.Join(root, "setcodes", "LOB-EN001.json"), `{"id":12345,"name":"Card A"}`)

	code, stdout, stderr := runCLI(t, root, "export", "cards", "--offline")
	if code != 0 {
		t.Fatalf("退出码=%d，期望 0\nstderr=%s", code, stderr)
	}

	rr := decodeSingleReport(t, stdout)
	if !rr.Offline || rr.FatalCode != "" {
		t.Fatalf("report 不符合预期：%+v", rr)
	}
	want := domain.ReportSummary{Rows: 2, Cards: 2, Resolved: 1, LookupErrors: 1, Listings: 1}
	if rr.Summary != want {
		t.Fatalf("summary=%+v，期望 %+v", rr.Summary, want)
	}
	if strings.Contains(stdout, "配置（生效）") || strings.Contains(stdout, "完成：") {
		t.Fatalf("stdout 不应包含进度/摘要输出：%q", stdout)
	}
	if !strings.Contains(stderr, "完成：rows=2 cards=2 resolved=1 lookup_errors=1") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr)
	}

	conf, err := os.ReadFile(filepath.Join(root, "out", "all", "MyCards.lflist.conf"))
	if err != nil {
		t.Fatalf("读取 conf 失败：%v", err)
	}
	if !strings.Contains(string(conf), "12345 2 #Card A") {
		t.Fatalf("conf 内容不符合预期：\n%s", conf)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "report.json")); err != nil {
		t.Fatalf("缺少 report.json：%v", err)
	}
}

func TestCLI_ExportYAMLAndOutFlag(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "all-folders.csv"), cliCSV)

	code, stdout, stderr := runCLI(t, root, "export", "--offline", "--format", "yaml", "--out", "dist")
	if code != 0 {
		t.Fatalf("退出码=%d，期望 0\nstderr=%s", code, stderr)
	}
	decodeSingleReport(t, stdout)
	for _, name := range []string{"cards.yaml", "conf_cards.yaml", "cards_with_error.yaml", "MyCards.lflist.conf"} {
		if _, err := os.Stat(filepath.Join(root, "dist", "tcg", name)); err != nil {
			t.Fatalf("缺少 dist/tcg/%s：%v", name, err)
		}
	}
}

func TestCLI_ExportMissingInputIsFatal(t *testing.T) {
	root := t.TempDir()

	code, stdout, _ := runCLI(t, root, "export", "nope.csv", "--offline")
	if code != 1 {
		t.Fatalf("退出码=%d，期望 1", code)
	}
	rr := decodeSingleReport(t, stdout)
	if rr.FatalCode != domain.ErrCodeSourceRead {
		t.Fatalf("fatal_code=%q，期望 %q", rr.FatalCode, domain.ErrCodeSourceRead)
	}
}

func TestCLI_ConfigErrorsExitOne(t *testing.T) {
	root := t.TempDir()

	code, stdout, _ := runCLI(t, root, "export", "--config", "missing.yaml")
	if code != 1 {
		t.Fatalf("退出码=%d，期望 1", code)
	}
	if rr := decodeSingleReport(t, stdout); rr.FatalCode != domain.ErrCodeConfigNotFound {
		t.Fatalf("fatal_code=%q，期望 %q", rr.FatalCode, domain.ErrCodeConfigNotFound)
	}

	writeFile(t, filepath.Join(root, "cardx.yaml"), "export:\n  max_copies: 0\n")
	code, stdout, _ = runCLI(t, root, "export")
	if code != 1 {
		t.Fatalf("退出码=%d，期望 1", code)
	}
	if rr := decodeSingleReport(t, stdout); rr.FatalCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("fatal_code=%q，期望 %q", rr.FatalCode, domain.ErrCodeConfigInvalid)
	}
}

func TestCLI_UsageErrorsExitTwo(t *testing.T) {
	root := t.TempDir()
	cases := [][]string{
		{"export", "--format", "xml"},
		{"export", "--no-such-flag"},
		{"export", "a.csv", "b.csv"},
		{"scrape", "extra"},
		{"scrape"},
		{"frobnicate"},
	}
	for _, args := range cases {
		code, stdout, stderr := runCLI(t, root, args...)
		if code != 2 {
			t.Fatalf("%v 退出码=%d，期望 2\nstderr=%s", args, code, stderr)
		}
		if stdout != "" {
			t.Fatalf("%v 用法错误不应输出到 stdout：%q", args, stdout)
		}
		if !strings.Contains(stderr, "参数错误") {
			t.Fatalf("%v stderr 缺少错误说明：%q", args, stderr)
		}
	}
}

func TestCLI_Help(t *testing.T) {
	code, stdout, _ := runCLI(t, t.TempDir(), "--help")
	if code != 0 {
		t.Fatalf("退出码=%d，期望 0", code)
	}
	for _, want := range []string{"export", "scrape"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("help 缺少 %q：%s", want, stdout)
		}
	}
}

const cliListHTML = `<html><body><div class="resultCol">
<dl class="modalCol" id="OP05-119">
  <dt><div class="infoCol"><span>OP05-119</span> | <span>SEC</span> | <span>CHARACTER</span></div>
  <div class="cardName">Monkey.D.Luffy</div></dt>
  <dd><div class="frontCol"><img src="../images/cardlist/card/OP05-119.png"></div>
  <div class="backCol"><div class="cost"><h3>Cost</h3>10</div><div class="power"><h3>Power</h3>12000</div></div></dd>
</dl>
</div></body></html>`

func TestCLI_Scrape(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/cardlist/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(cliListHTML))
	}))
	defer srv.Close()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cardx.yaml"), "scrape:\n  base_url: "+srv.URL+"\n")

	code, stdout, stderr := runCLI(t, root, "scrape", "--series", "569105", "--use-cache")
	if code != 0 {
		t.Fatalf("退出码=%d，期望 0\nstderr=%s", code, stderr)
	}
	var res struct {
		FromCache bool     `json:"from_cache"`
		Cards     int      `json:"cards"`
		Files     []string `json:"files"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v\n%q", err, stdout)
	}
	if res.FromCache || res.Cards != 1 || len(res.Files) != 1 {
		t.Fatalf("结果不符合预期：%+v", res)
	}

	b, err := os.ReadFile(filepath.Join(root, "output", "OP05-119.json"))
	if err != nil {
		t.Fatalf("读取卡片文件失败：%v", err)
	}
	var card domain.ListCard
	if err := json.Unmarshal(b, &card); err != nil {
		t.Fatalf("卡片文件不是合法 JSON：%v", err)
	}
	if card.Name != "Monkey.D.Luffy" || card.Rarity != "SEC" || card.Power != "12000" {
		t.Fatalf("卡片内容不符合预期：%+v", card)
	}
	if _, err := os.Stat(filepath.Join(root, "list_569105.html")); err != nil {
		t.Fatalf("--use-cache 应写入卡表缓存：%v", err)
	}

	// 第二次走缓存，不再请求。
	code, stdout, stderr = runCLI(t, root, "scrape", "--series", "569105", "--use-cache")
	if code != 0 {
		t.Fatalf("退出码=%d，期望 0\nstderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, `"from_cache":true`) {
		t.Fatalf("第二次应读取缓存：%q", stdout)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("期望只请求 1 次，实际 %d", n)
	}
}

func TestCLI_ScrapeFetchFailureExitOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cardx.yaml"), "scrape:\n  base_url: "+srv.URL+"\n  series: \"569001\"\n")

	code, stdout, stderr := runCLI(t, root, "scrape")
	if code != 1 {
		t.Fatalf("退出码=%d，期望 1", code)
	}
	if stdout != "" {
		t.Fatalf("失败时 stdout 应为空：%q", stdout)
	}
	if !strings.Contains(stderr, domain.ErrCodeScrapeFetch) {
		t.Fatalf("stderr 缺少错误码：%q", stderr)
	}
}
