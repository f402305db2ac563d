package logx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options 描述日志输出。
//
// 约定：
// - Dir 非空：追加写入 <Dir>/log_YYYY-MM-DD.log（按本地日期，一天一个文件）
// - Stderr：默认只输出 warn 及以上；Verbose=true 时输出 debug 及以上
// - 日志文件始终记录 info 及以上；Verbose=true 时包含 debug
type Options struct {
	Dir     string
	Verbose bool
	Stderr  io.Writer
	Now     func() time.Time
}

// FileName 返回某一天的日志文件名。
func FileName(t time.Time) string {
	return "log_" + t.Format("2006-01-02") + ".log"
}

// Setup 构造 logger。返回的 closer 负责关闭日志文件（无文件时为 no-op）。
func Setup(opt Options) (*slog.Logger, io.Closer, error) {
	stderr := opt.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}

	consoleLevel := slog.LevelWarn
	fileLevel := slog.LevelInfo
	if opt.Verbose {
		consoleLevel = slog.LevelDebug
		fileLevel = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: consoleLevel}),
	}

	var closer io.Closer = nopCloser{}
	if opt.Dir != "" {
		if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(filepath.Join(opt.Dir, FileName(now())), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: fileLevel}))
		closer = f
	}

	return slog.New(tee(handlers)), closer, nil
}

// Discard 返回丢弃一切输出的 logger（测试与库调用方未注入 logger 时使用）。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// tee 把一条记录分发给所有 enabled 的 handler。
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
