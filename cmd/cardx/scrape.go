package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/cardx/internal/config"
	"github.com/John-Robertt/cardx/internal/infra/httpx"
	"github.com/John-Robertt/cardx/internal/infra/logx"
	"github.com/John-Robertt/cardx/internal/scrape"
)

func (a *app) scrapeCmd() *cobra.Command {
	var (
		series   string
		useCache bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "抓取 One Piece 卡表，每张卡写出一个 JSON 文件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := a.cliArgs()
			cli.Series = series
			cli.UseCache = useCache
			cli.UseCacheSet = cmd.Flags().Changed("use-cache")

			eff, err := config.LoadEffective(a.cwd, cli)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			if eff.Scrape.Series == "" {
				return errors.New("缺少系列 id：使用 --series 或配置 scrape.series")
			}
			return a.runScrape(cmd, eff)
		},
	}
	f := cmd.Flags()
	f.StringVar(&series, "series", "", "卡表系列 id（例如 569001）")
	f.BoolVar(&useCache, "use-cache", false, "优先读取本地缓存的卡表 HTML；不存在时请求后写入")
	return cmd
}

func (a *app) runScrape(cmd *cobra.Command, eff config.EffectiveConfig) error {
	log, closer, err := logx.Setup(logx.Options{Dir: eff.LogDir, Verbose: eff.Verbose, Stderr: a.stderr})
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("初始化日志失败：%w", err)}
	}
	defer closer.Close()

	sc := eff.Scrape
	hc, err := httpx.NewClient(eff.ProxyURL, eff.Timeout)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("proxy.url 无效：%w", err)}
	}

	res, err := scrape.Run(cmd.Context(), hc, scrape.Options{
		BaseURL:   sc.BaseURL,
		Series:    sc.Series,
		OutDir:    sc.OutDir,
		UseCache:  sc.UseCache,
		CacheFile: sc.CacheFile,
		Logger:    log,
	})
	if err != nil {
		log.Error("抓取失败", "series", sc.Series, "code", scrape.Code(err), "err", err)
		return &exitError{code: 1, err: fmt.Errorf("%s: %w", scrape.Code(err), err)}
	}

	source := "network"
	if res.FromCache {
		source = "cache"
	}
	if isTTY(a.stdout) {
		fmt.Fprintf(a.stdout, "完成：series=%s cards=%d source=%s\n", sc.Series, res.Cards, source)
		fmt.Fprintf(a.stdout, "out: %s\n", sc.OutDir)
		return nil
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(res)
	fmt.Fprintf(a.stderr, "完成：series=%s cards=%d source=%s\n", strings.TrimSpace(sc.Series), res.Cards, source)
	return nil
}
