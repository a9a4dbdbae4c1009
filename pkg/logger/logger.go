package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	// Level is either a zap level name (debug, info, warn, error) or an
	// environment name (development, staging, production)
	Level       string
	ServiceName string
	Development bool

	// OutputFile enables rotated file output in addition to stdout
	OutputFile string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps zap.Logger
type Logger struct {
	*zap.Logger
}

var (
	global *Logger
	mu     sync.RWMutex
)

// Init initializes the global logger
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{Level: "info", ServiceName: "reservation-engine"}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if cfg.Development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	level := parseLevel(cfg.Level)
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.OutputFile != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	l := zap.New(core, opts...)
	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}

	mu.Lock()
	global = &Logger{Logger: l}
	mu.Unlock()
	return nil
}

// Get returns the global logger, falling back to a no-op logger before Init
func Get() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return &Logger{Logger: zap.NewNop()}
	}
	return global
}

// Sync flushes buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		_ = global.Logger.Sync()
	}
}

// Named returns a child logger tagged with a component name
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// With returns a child logger carrying the given fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// InfoContext logs at info level with trace correlation
func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.Logger.Info(msg, append(fields, traceFields(ctx)...)...)
}

// WarnContext logs at warn level with trace correlation
func (l *Logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, append(fields, traceFields(ctx)...)...)
}

// ErrorContext logs at error level with trace correlation
func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, traceFields(ctx)...)...)
}

func traceFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug", "development", "dev":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
