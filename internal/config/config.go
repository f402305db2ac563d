package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（不含扩展名；支持 yaml/yml/json/toml）。
	FileName = "cardx"
	// EnvPrefix 是环境变量前缀：CARDX_EXPORT_OFFLINE=true 覆盖 export.offline。
	EnvPrefix = "CARDX"
)

const (
	DefaultInput         = "all-folders.csv"
	DefaultExportOutDir  = "out"
	DefaultCacheDir      = "setcodes"
	DefaultLookupURL     = "https://db.ygoprodeck.com/api/v7/cardsetsinfo.php"
	DefaultLookupDelay   = 50 * time.Millisecond
	DefaultTimeout       = 20 * time.Second
	DefaultMaxCopies     = 3
	DefaultListName      = "My Cards"
	DefaultDumpFormat    = "json"
	DefaultLogDir        = "logs"
	DefaultCurrencyRate  = 55.0
	DefaultBaseRarity    = "Common"
	DefaultScrapeBaseURL = "https://en.onepiece-cardgame.com"
	DefaultScrapeOutDir  = "output"
)

// DefaultSkipFolders 是默认跳过的文件夹（不进入任何 banlist bucket）。
var DefaultSkipFolders = []string{"Rush"}

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息，
// 保证 --offline=false 能覆盖配置文件里的 offline=true。
type CLIArgs struct {
	ConfigFile string

	Input  string
	OutDir string

	Offline    bool
	OfflineSet bool

	DumpFormat string

	Series string

	UseCache    bool
	UseCacheSet bool

	Verbose bool
}

// FileConfig 对应 cardx.yaml 的解析结构（也可由 CARDX_* 环境变量覆盖）。
type FileConfig struct {
	LogDir  string        `mapstructure:"log_dir"`
	Timeout time.Duration `mapstructure:"timeout"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Export  ExportFile    `mapstructure:"export"`
	Scrape  ScrapeFile    `mapstructure:"scrape"`
}

type ProxyConfig struct {
	URL string `mapstructure:"url"`
}

type ExportFile struct {
	Input       string        `mapstructure:"input"`
	OutDir      string        `mapstructure:"out_dir"`
	CacheDir    string        `mapstructure:"cache_dir"`
	LookupURL   string        `mapstructure:"lookup_url"`
	LookupDelay time.Duration `mapstructure:"lookup_delay"`
	Offline     bool          `mapstructure:"offline"`
	SkipFolders []string      `mapstructure:"skip_folders"`
	MaxCopies   int           `mapstructure:"max_copies"`
	ClampRows   bool          `mapstructure:"clamp_rows"`
	ListName    string        `mapstructure:"list_name"`
	DumpFormat  string        `mapstructure:"dump_format"`
	Listing     ListingFile   `mapstructure:"listing"`
}

type ListingFile struct {
	CurrencyRate         float64 `mapstructure:"currency_rate"`
	BaselineRarity       string  `mapstructure:"baseline_rarity"`
	MarketPriceFromIndex bool    `mapstructure:"market_price_from_index"`
}

type ScrapeFile struct {
	BaseURL   string `mapstructure:"base_url"`
	Series    string `mapstructure:"series"`
	OutDir    string `mapstructure:"out_dir"`
	UseCache  bool   `mapstructure:"use_cache"`
	CacheFile string `mapstructure:"cache_file"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（路径均为 clean + absolute）。
type EffectiveConfig struct {
	ConfigFile string // 实际读取的配置文件；未读取时为空
	LogDir     string
	Verbose    bool
	ProxyURL   string
	Timeout    time.Duration

	Export ExportConfig
	Scrape ScrapeConfig
}

type ExportConfig struct {
	Input       string
	OutDir      string
	CacheDir    string
	LookupURL   string
	LookupDelay time.Duration
	Offline     bool
	SkipFolders []string
	MaxCopies   int
	ClampRows   bool
	ListName    string
	DumpFormat  string

	CurrencyRate         float64
	BaselineRarity       string
	MarketPriceFromIndex bool
}

type ScrapeConfig struct {
	BaseURL   string
	Series    string
	OutDir    string
	UseCache  bool
	CacheFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			if e.Path == "" {
				return fmt.Sprintf("%s：配置无效：%v", e.Code, e.Err)
			}
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置并与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/cardx.{yaml,yml,json,toml}（可选）
//
// 覆盖优先级（固定）：CLI > 环境变量 CARDX_* > 配置文件 > 默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	v := newViper()

	cfgPath := ""
	if strings.TrimSpace(cli.ConfigFile) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigFile)
		if _, err := os.Stat(cfgPath); err != nil {
			if os.IsNotExist(err) {
				return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
			}
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(cwdAbs)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: v.ConfigFileUsed(), Err: err}
			}
			// 配置文件可选：只用环境变量与默认值。
		} else {
			cfgPath = v.ConfigFileUsed()
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigFile = cfgPath
	return eff, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 默认值同时让 AutomaticEnv 能“认识”所有 key（Unmarshal 只覆盖已知 key）。
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("proxy.url", "")

	v.SetDefault("export.input", DefaultInput)
	v.SetDefault("export.out_dir", DefaultExportOutDir)
	v.SetDefault("export.cache_dir", DefaultCacheDir)
	v.SetDefault("export.lookup_url", DefaultLookupURL)
	v.SetDefault("export.lookup_delay", DefaultLookupDelay)
	v.SetDefault("export.offline", false)
	v.SetDefault("export.skip_folders", DefaultSkipFolders)
	v.SetDefault("export.max_copies", DefaultMaxCopies)
	v.SetDefault("export.clamp_rows", false)
	v.SetDefault("export.list_name", DefaultListName)
	v.SetDefault("export.dump_format", DefaultDumpFormat)
	v.SetDefault("export.listing.currency_rate", DefaultCurrencyRate)
	v.SetDefault("export.listing.baseline_rarity", DefaultBaseRarity)
	v.SetDefault("export.listing.market_price_from_index", true)

	v.SetDefault("scrape.base_url", DefaultScrapeBaseURL)
	v.SetDefault("scrape.series", "")
	v.SetDefault("scrape.out_dir", DefaultScrapeOutDir)
	v.SetDefault("scrape.use_cache", false)
	v.SetDefault("scrape.cache_file", "")
	return v
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	ex := fc.Export

	// input/out：CLI > 其余来源
	input := ex.Input
	if strings.TrimSpace(cli.Input) != "" {
		input = cli.Input
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return EffectiveConfig{}, fmt.Errorf("export.input 不能为空")
	}
	// 与导出工具的习惯一致：输入名缺少 .csv 后缀时自动补上。
	if !strings.HasSuffix(strings.ToLower(input), ".csv") {
		input += ".csv"
	}

	exportOut := ex.OutDir
	scrapeOut := fc.Scrape.OutDir
	if strings.TrimSpace(cli.OutDir) != "" {
		exportOut = cli.OutDir
		scrapeOut = cli.OutDir
	}

	offline := ex.Offline
	if cli.OfflineSet {
		offline = cli.Offline
	}

	dumpFormat := strings.ToLower(strings.TrimSpace(ex.DumpFormat))
	if strings.TrimSpace(cli.DumpFormat) != "" {
		dumpFormat = strings.ToLower(strings.TrimSpace(cli.DumpFormat))
	}
	switch dumpFormat {
	case "json", "yaml":
	default:
		return EffectiveConfig{}, fmt.Errorf("export.dump_format 只能是 json 或 yaml，实际是 %q", dumpFormat)
	}

	if err := validateHTTPURL("export.lookup_url", ex.LookupURL); err != nil {
		return EffectiveConfig{}, err
	}
	if ex.LookupDelay < 0 {
		return EffectiveConfig{}, fmt.Errorf("export.lookup_delay 不能为负数：%v", ex.LookupDelay)
	}
	if ex.MaxCopies < 1 || ex.MaxCopies > 99 {
		return EffectiveConfig{}, fmt.Errorf("export.max_copies 必须在 [1, 99]，实际是 %d", ex.MaxCopies)
	}
	if ex.Listing.CurrencyRate <= 0 {
		return EffectiveConfig{}, fmt.Errorf("export.listing.currency_rate 必须大于 0，实际是 %v", ex.Listing.CurrencyRate)
	}
	listName := strings.TrimSpace(ex.ListName)
	if listName == "" {
		listName = DefaultListName
	}

	proxyURL := strings.TrimSpace(fc.Proxy.URL)
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%w", err)
		}
	}

	timeout := fc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sc := fc.Scrape
	baseURL := strings.TrimRight(strings.TrimSpace(sc.BaseURL), "/")
	if err := validateHTTPURL("scrape.base_url", baseURL); err != nil {
		return EffectiveConfig{}, err
	}
	series := strings.TrimSpace(sc.Series)
	if strings.TrimSpace(cli.Series) != "" {
		series = strings.TrimSpace(cli.Series)
	}
	useCache := sc.UseCache
	if cli.UseCacheSet {
		useCache = cli.UseCache
	}
	cacheFile := strings.TrimSpace(sc.CacheFile)
	if cacheFile == "" {
		cacheFile = "list_" + series + ".html"
	}

	skip := make([]string, 0, len(ex.SkipFolders))
	for _, s := range ex.SkipFolders {
		if s = strings.TrimSpace(s); s != "" {
			skip = append(skip, s)
		}
	}

	logDir := ""
	if strings.TrimSpace(fc.LogDir) != "" {
		logDir = absCleanFrom(cwdAbs, fc.LogDir)
	}

	return EffectiveConfig{
		LogDir:   logDir,
		Verbose:  cli.Verbose,
		ProxyURL: proxyURL,
		Timeout:  timeout,
		Export: ExportConfig{
			Input:       absCleanFrom(cwdAbs, input),
			OutDir:      absCleanFrom(cwdAbs, exportOut),
			CacheDir:    absCleanFrom(cwdAbs, ex.CacheDir),
			LookupURL:   strings.TrimSpace(ex.LookupURL),
			LookupDelay: ex.LookupDelay,
			Offline:     offline,
			SkipFolders: skip,
			MaxCopies:   ex.MaxCopies,
			ClampRows:   ex.ClampRows,
			ListName:    listName,
			DumpFormat:  dumpFormat,

			CurrencyRate:         ex.Listing.CurrencyRate,
			BaselineRarity:       strings.TrimSpace(ex.Listing.BaselineRarity),
			MarketPriceFromIndex: ex.Listing.MarketPriceFromIndex,
		},
		Scrape: ScrapeConfig{
			BaseURL:   baseURL,
			Series:    series,
			OutDir:    absCleanFrom(cwdAbs, scrapeOut),
			UseCache:  useCache,
			CacheFile: absCleanFrom(cwdAbs, cacheFile),
		},
	}, nil
}

func validateHTTPURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
