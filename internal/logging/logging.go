// Package logging builds the application's zap logger and limits how often
// steady-state conditions in the frame loop are logged.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// Config holds configuration for the logger
type Config struct {
	Level       string
	Development bool
	// Output paths; defaults to stderr.
	OutputPaths []string
}

// New creates a JSON logger, or a console logger in development mode.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	encoderConfig := zapcore.EncoderConfig{
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
	encoding := "json"
	if cfg.Development {
		encoding = "console"
		encoderConfig.EncodeLevel = zapcore.LowercaseColorLevelEncoder
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	return config.Build()
}

// ParseLevel converts a level name; empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("logging: unknown level %q", level)
	}
	return l, nil
}

// Limiter runs a log call at most once per interval for each condition key.
type Limiter struct {
	log      *zap.Logger
	interval time.Duration

	mu    sync.Mutex
	conds map[string]*rate.Sometimes
}

// NewLimiter returns a limiter writing to log. A zero interval means one
// second.
func NewLimiter(log *zap.Logger, interval time.Duration) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Limiter{log: log, interval: interval, conds: make(map[string]*rate.Sometimes)}
}

func (l *Limiter) sometimes(key string) *rate.Sometimes {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.conds[key]
	if !ok {
		s = &rate.Sometimes{Interval: l.interval}
		l.conds[key] = s
	}
	return s
}

// Warn logs msg at warn level unless key was logged within the interval.
func (l *Limiter) Warn(key, msg string, fields ...zap.Field) {
	l.sometimes(key).Do(func() {
		l.log.Warn(msg, append(fields, zap.String("condition", key))...)
	})
}

// Error logs msg at error level unless key was logged within the interval.
func (l *Limiter) Error(key, msg string, fields ...zap.Field) {
	l.sometimes(key).Do(func() {
		l.log.Error(msg, append(fields, zap.String("condition", key))...)
	})
}
