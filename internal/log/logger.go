package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zap.WarnLevel)
)

// Logger returns the process-wide logger, building a stderr logger on first use
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = build([]string{"stderr"})
	}
	return logger
}

// Init configures the level and output of the process-wide logger.
// An empty file means stderr.
func Init(levelName, file string) error {
	lvl, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", levelName, err)
	}
	level.SetLevel(lvl)

	output := "stderr"
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		output = file
	}

	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
	logger = build([]string{output})
	return nil
}

// SetLogger replaces the process-wide logger; tests use it with zaptest or zap.NewNop
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// IsDebugEnabled reports whether debug output would be written
func IsDebugEnabled() bool {
	return Logger().Core().Enabled(zapcore.DebugLevel)
}

func build(outputs []string) *zap.Logger {
	cfg := createConfig(outputs)
	l, err := cfg.Build()
	if err != nil {
		// this should really not happen so just write to stdout and use a Nop logger
		fmt.Printf("Logging disabled, logger init failed with error: %v\n", err)
		return zap.NewNop()
	}
	return l
}

// Console encoding with ISO8601 timestamps, level shared through the atomic level
func createConfig(outputs []string) *zap.Config {
	return &zap.Config{
		Level:       level,
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "name",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
}
