// Package obslog is the turret's structured logging setup. It plays the
// role the teacher's internal/debug package played (leveled, sectioned
// console output) but is backed by zap so every field is queryable
// instead of interpolated into a message string.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the rotating file sink. Zero value disables it.
type FileConfig struct {
	Path       string `yaml:"path"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// Config selects the logger's level, format, and sinks.
type Config struct {
	Level  string     `yaml:"level"`  // debug|info|warn|error
	Format string     `yaml:"format"` // console|json
	File   FileConfig `yaml:"file"`
}

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Init builds the process-wide logger from cfg. Safe to call once at
// startup; subsequent calls replace the active logger.
func Init(cfg Config) (*zap.Logger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	level := parseLevel(cfg.Level)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if cfg.File.Filename != "" {
		if err := os.MkdirAll(cfg.File.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.File.Path, cfg.File.Filename),
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDays,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	mu.Lock()
	logger = l
	mu.Unlock()

	return l, nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "", "info":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// L returns the active logger, falling back to a no-op logger if Init was
// never called (keeps package-level helpers safe in unit tests).
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// GPIOEvent logs a single low-level pin operation at debug level.
func GPIOEvent(op string, pin int, value any) {
	L().Debug("gpio", zap.String("op", op), zap.Int("pin", pin), zap.Any("value", value))
}

// Move logs a completed or partial axis motion.
func Move(axis string, steps int, direction string, terminatedBy string) {
	L().Info("axis_move",
		zap.String("axis", axis),
		zap.Int("steps", steps),
		zap.String("direction", direction),
		zap.String("terminated_by", terminatedBy),
	)
}

// Section marks a coarse lifecycle boundary (startup phase, shutdown, etc).
func Section(name string) {
	L().Info("section", zap.String("name", name))
}

// Sync flushes buffered log entries; call before process exit.
func Sync() error {
	return L().Sync()
}
