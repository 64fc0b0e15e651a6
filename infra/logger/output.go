package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures process logging. File enables a rotated copy of the
// output; sizes are in megabytes and ages in days. An empty Format selects
// the console format when APP_ENV is dev and JSON otherwise.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stdout
	format   string
)

func currentOutput() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return output
}

func consoleOutput() bool {
	outputMu.RLock()
	f := format
	outputMu.RUnlock()
	if f == "" {
		return strings.EqualFold(os.Getenv("APP_ENV"), "dev")
	}
	return f == FormatConsole
}

// Configure sets the global level and, when cfg.File is set, tees every
// logger created afterwards to a rotated file. The returned closer releases
// the file.
func Configure(cfg Options) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch cfg.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zerolog.SetGlobalLevel(level)

	outputMu.Lock()
	defer outputMu.Unlock()
	format = cfg.Format
	if cfg.File == "" {
		output = os.Stdout
		return io.NopCloser(nil), nil
	}
	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	output = io.MultiWriter(os.Stdout, lj)
	return lj, nil
}
