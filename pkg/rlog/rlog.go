// Package rlog is the process-wide structured logger: a zap.Logger backed
// by either stdout or a lumberjack-rotated file.
package rlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// Config controls where log output goes and how file output rotates.
type Config struct {
	Output     string // "stdout" or "file"
	Path       string
	Filename   string
	Level      string
	KeepDays   int
	RotateSize int // MB
	RotateNum  int
}

// SetDefaults returns a Config with sensible defaults for stdout logging.
func SetDefaults() *Config {
	return &Config{
		Output:     "stdout",
		Path:       "./logs",
		Filename:   "ringnet.log",
		Level:      "info",
		KeepDays:   7,
		RotateSize: 100,
		RotateNum:  10,
	}
}

func (c *Config) validate() error {
	if c.Output != "file" {
		return nil
	}
	if c.Path == "" {
		return fmt.Errorf("rlog: path is required when output is \"file\"")
	}
	if c.RotateSize <= 0 {
		c.RotateSize = 100
	}
	if c.RotateNum <= 0 {
		c.RotateNum = 10
	}
	if c.KeepDays <= 0 {
		c.KeepDays = 7
	}
	return nil
}

// Init builds the global logger from cfg.
func Init(cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	var writeSyncer zapcore.WriteSyncer
	switch cfg.Output {
	case "file":
		var err error
		writeSyncer, err = fileWriteSyncer(cfg)
		if err != nil {
			return fmt.Errorf("rlog: %w", err)
		}
	default:
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder(), writeSyncer, parseLevel(cfg.Level))
	newLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1),
		zap.Fields(zap.String("host", hostname())))

	mu.Lock()
	logger = newLogger
	sugar = newLogger.Sugar()
	mu.Unlock()

	sugar.Debugw("rlog initialized", "output", cfg.Output, "level", cfg.Level)
	return nil
}

// MustInit calls Init and panics on error; used for one-shot CLI startup
// paths where there is nowhere sensible to propagate a logging failure.
func MustInit(cfg *Config) {
	if err := Init(cfg); err != nil {
		panic(err)
	}
}

// hostname stamps every log line with its origin host, so aggregated
// logs from a fleet of drivers stay attributable.
func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func fileWriteSyncer(cfg *Config) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Path, cfg.Filename),
		MaxSize:    cfg.RotateSize,
		MaxBackups: cfg.RotateNum,
		MaxAge:     cfg.KeepDays,
		Compress:   true,
	}
	return zapcore.AddSync(lj), nil
}

func encoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// L returns the global sugared logger, falling back to a bare stdout
// logger if Init was never called — handy for library code and tests that
// log before the process has configured anything.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugar == nil {
		return zap.NewExample().Sugar()
	}
	return sugar
}

func Debugw(msg string, kv ...any) { L().Debugw(msg, kv...) }
func Infow(msg string, kv ...any)  { L().Infow(msg, kv...) }
func Warnw(msg string, kv ...any)  { L().Warnw(msg, kv...) }
func Errorw(msg string, kv ...any) { L().Errorw(msg, kv...) }

// Sync flushes any buffered log entries; callers should defer it after
// Init in a main function.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return nil
	}
	return logger.Sync()
}
