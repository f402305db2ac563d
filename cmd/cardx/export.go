package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/cardx/internal/app/run"
	"github.com/John-Robertt/cardx/internal/config"
	"github.com/John-Robertt/cardx/internal/domain"
	"github.com/John-Robertt/cardx/internal/export"
	"github.com/John-Robertt/cardx/internal/infra/logx"
)

func (a *app) exportCmd() *cobra.Command {
	var (
		offline bool
		format  string
	)
	cmd := &cobra.Command{
		Use:   "export [input]",
		Short: "把收藏导出 CSV 转换为 banlist / JSON 导出 / 上架记录",
		Long: `读取收藏导出 CSV（默认 all-folders.csv，可省略 .csv 后缀），
按 set code 查询卡片 id（结果缓存在 cache_dir），并写出：
  <out>/<all|tcg|ocg|ae>/cards.json、conf_cards.json、cards_with_error.json、<list>.lflist.conf
  <out>/listings.json、<out>/report.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := a.cliArgs()
			if len(args) == 1 {
				cli.Input = args[0]
			}
			cli.Offline = offline
			cli.OfflineSet = cmd.Flags().Changed("offline")
			if cmd.Flags().Changed("format") {
				switch strings.ToLower(strings.TrimSpace(format)) {
				case export.FormatJSON, export.FormatYAML:
				default:
					return fmt.Errorf("--format 只能是 json 或 yaml，实际是 %q", format)
				}
				cli.DumpFormat = format
			}
			return a.runExport(cmd, cli)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&offline, "offline", false, "只读缓存，不访问网络（支持 --offline=false 覆盖配置）")
	f.StringVar(&format, "format", "", "导出格式：json|yaml（默认 json）")
	return cmd
}

func (a *app) runExport(cmd *cobra.Command, cli config.CLIArgs) error {
	eff, err := config.LoadEffective(a.cwd, cli)
	if err != nil {
		emitReport(a.stdout, a.stderr, reportForConfigError(a.cwd, cli, err))
		return fatal()
	}

	log, closer, err := logx.Setup(logx.Options{Dir: eff.LogDir, Verbose: eff.Verbose, Stderr: a.stderr})
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("初始化日志失败：%w", err)}
	}
	defer closer.Close()
	if eff.ConfigFile != "" {
		log.Info("读取配置", "file", eff.ConfigFile)
	}

	progressW, interactive := pickProgressWriter(a.stdout, a.stderr)
	var obs run.Observer
	var ui *progressUI
	if interactive {
		ui = newProgressUI(progressW)
		obs = ui
	}

	rr := run.ExecuteWithObserver(cmd.Context(), eff, run.Deps{Logger: log}, obs)
	if ui != nil {
		ui.Close()
	}

	emitReport(a.stdout, a.stderr, rr)
	if interactive && !rr.Failed() {
		emitLocations(progressW, eff)
	}
	if rr.Failed() {
		return fatal()
	}
	return nil
}

// emitReport：stdout 是 TTY 时输出摘要表；否则 stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）。
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	if isTTY(stdout) {
		renderSummary(stdout, rr)
		emitProblems(stderr, rr)
		return
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	line := fmt.Sprintf("完成：rows=%d cards=%d resolved=%d lookup_errors=%d row_errors=%d skipped=%d listings=%d network_calls=%d",
		s.Rows, s.Cards, s.Resolved, s.LookupErrors, s.RowErrors, s.Skipped, s.Listings, s.NetworkCalls,
	)
	if rr.Failed() {
		line += " fatal=" + rr.FatalCode
	}
	return line
}

// emitProblems 把中止原因与行级错误写到 stderr（lookup 错误见 cards_with_error 文件）。
func emitProblems(w io.Writer, rr domain.RunReport) {
	if rr.Failed() {
		fmt.Fprintf(w, "%s: %s\n", rr.FatalCode, rr.FatalMsg)
	}
	for _, e := range rr.RowErrors {
		fmt.Fprintf(w, "line %d %s: %s\n", e.Line, e.Kind, truncate(e.Message, 160))
	}
}

func reportForConfigError(cwd string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	rr := domain.RunReport{
		Input:      strings.TrimSpace(cli.Input),
		Offline:    cli.OfflineSet && cli.Offline,
		StartedAt:  now,
		FinishedAt: now,
		FatalCode:  code,
		FatalMsg:   err.Error(),
	}
	if rr.Input == "" {
		rr.Input = cwd
	}
	rr.Finalize()
	return rr
}

// emitLocations 打印产物位置，不影响 stdout JSON 契约。
func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "out: %s\n", eff.Export.OutDir)
	fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Export.OutDir, export.ReportFile))
}
