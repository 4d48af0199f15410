// Package logger builds the zap loggers used by audiofetch. Components take
// a named child of the process root with Named.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// root is replaced by Init; info level to stderr until then.
var root atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewProduction()
	root.Store(l)
}

// Config describes where logs go.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // JSON log file next to the console output, rotated
	MaxSize    int    // MB before rotation
	MaxBackups int    // rotated files kept
	MaxAge     int    // days rotated files are kept
}

// ParseLevel converts a level name, in any case, to a zap level. The empty
// string is info.
func ParseLevel(level string) (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level: %s", level)
	}
	return l, nil
}

// New builds a logger writing human readable lines to stderr and, when
// cfg.File is set, JSON lines to a rotated file.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder

	console := ec
	console.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(console), zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotate := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSize, 64),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAge, 7),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(rotate), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Init replaces the process root logger. Loggers obtained from Named
// before the call keep writing to the previous one.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	if old := root.Swap(l); old != nil {
		_ = old.Sync()
	}
	return nil
}

// Named returns a sugared child of the root logger.
func Named(name string) *zap.SugaredLogger {
	return root.Load().Named(name).Sugar()
}

// Sync flushes buffered entries, call it before exiting.
func Sync() {
	_ = root.Load().Sync()
}
