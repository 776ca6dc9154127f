// Package logging builds the application slog.Logger on top of zap.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a slog.Logger whose level can be changed while running.
type Logger struct {
	*slog.Logger

	level *slog.LevelVar
	zap   *zap.Logger
}

// New returns a JSON logger writing to stderr at the named level.
func New(level string) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(level string, w io.Writer) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	// slog debug records reach zap through logr as verbosity 4, i.e. zap
	// level -4. Filtering happens in levelHandler, so the core accepts all.
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapcore.Level(slog.LevelDebug))
	z := zap.New(core)

	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))

	return &Logger{
		Logger: slog.New(&levelHandler{Handler: logr.ToSlogHandler(zapr.NewLogger(z)), level: lv}),
		level:  lv,
		zap:    z,
	}
}

// SetLevel changes the minimum level of every logger derived from l.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type levelHandler struct {
	slog.Handler
	level *slog.LevelVar
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
