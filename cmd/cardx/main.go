package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/cardx/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		os.Exit(1)
	}

	code := execute(ctx, cwd, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

// exitError 携带退出码；其余 error 一律视为用法错误（退出码 2）。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// fatal 表示运行失败，消息已经由命令自己输出。
func fatal() error { return &exitError{code: 1} }

type app struct {
	cwd    string
	stdout io.Writer
	stderr io.Writer

	configFile string
	outDir     string
	verbose    bool
}

func execute(ctx context.Context, cwd string, args []string, stdout, stderr io.Writer) int {
	a := &app{cwd: cwd, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误：%v\n", err)
	fmt.Fprintf(stderr, "使用 \"%s --help\" 查看详细说明。\n", root.Name())
	return 2
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cardx",
		Short: "cardx 把卡牌收藏导出转换为 banlist，并抓取 One Piece 卡表。",

		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "配置文件路径（默认读取当前目录下的 cardx.yaml/json/toml）")
	pf.StringVar(&a.outDir, "out", "", "输出目录（覆盖配置中的 export.out_dir / scrape.out_dir）")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "输出 debug 日志到 stderr")

	root.AddCommand(a.exportCmd(), a.scrapeCmd())
	return root
}

// cliArgs 把全局 flag 填入 config.CLIArgs；各子命令再补充自己的字段。
func (a *app) cliArgs() config.CLIArgs {
	return config.CLIArgs{
		ConfigFile: a.configFile,
		OutDir:     a.outDir,
		Verbose:    a.verbose,
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// pickProgressWriter：进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	if isTTY(stderr) {
		return stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}
