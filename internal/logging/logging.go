// Package logging builds the process logger: a console core split between
// stdout and stderr, plus an optional rotating file core.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file. An empty Path disables it.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var encoderConfig = zapcore.EncoderConfig{
	MessageKey:     "msg",
	LevelKey:       "level",
	TimeKey:        "ts",
	NameKey:        "logger",
	CallerKey:      "caller",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.LowercaseLevelEncoder,
	EncodeTime:     zapcore.ISO8601TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// levelRange enables levels in [min, max].
type levelRange struct {
	min, max zapcore.Level
}

func (l levelRange) Enabled(level zapcore.Level) bool {
	return level >= l.min && level <= l.max
}

// ParseLevel parses a level name. The empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New returns a logger at level. Errors and above go to stderr, the rest to
// stdout; with a file configured every enabled entry is also written as JSON
// to the rotating file.
func New(level string, file FileOptions) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return newLogger(lvl, file, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr)), nil
}

func newLogger(lvl zapcore.Level, file FileOptions, stdout, stderr zapcore.WriteSyncer) *zap.Logger {
	console := zapcore.NewConsoleEncoder(encoderConfig)
	cores := []zapcore.Core{
		zapcore.NewCore(console, stderr, levelRange{min: max(lvl, zapcore.ErrorLevel), max: zapcore.FatalLevel}),
		zapcore.NewCore(console, stdout, levelRange{min: lvl, max: zapcore.WarnLevel}),
	}
	if file.Path != "" {
		// lumberjack.Logger is safe for concurrent use.
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator(file)),
			lvl,
		))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func rotator(file FileOptions) *lumberjack.Logger {
	l := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
	if l.MaxSize <= 0 {
		l.MaxSize = 10
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 3
	}
	return l
}
