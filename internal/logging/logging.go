// Package logging builds the process logger: a slog handler whose level
// and output can be changed at runtime, optionally teed into a rotating
// log file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the log file.
const (
	DefaultMaxSizeMB  = 50
	DefaultMaxFiles   = 5
	DefaultMaxAgeDays = 14
)

// Config is the logging section of the configuration document.
type Config struct {
	Level          string `yaml:"level" json:"level"`
	Format         string `yaml:"format" json:"format"`
	FilePath       string `yaml:"file_path" json:"file_path,omitempty"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `yaml:"file_max_files" json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" json:"file_max_age_days,omitempty"`
}

// DefaultConfig returns text logging at info level without a file.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "text",
		FileMaxSizeMB:  DefaultMaxSizeMB,
		FileMaxFiles:   DefaultMaxFiles,
		FileMaxAgeDays: DefaultMaxAgeDays,
	}
}

// Validate rejects unknown levels and formats.
func (c Config) Validate() error {
	if !ValidLevel(c.Level) {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	if !ValidFormat(c.Format) {
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}

// swapHandler forwards to a handler that can be replaced at runtime.
// Loggers derived with With or WithGroup keep following the swaps because
// they share the root pointer and replay their derivations on top of it.
type swapHandler struct {
	root *atomic.Pointer[slog.Handler]
	ops  []derivation
}

// derivation is one With (attrs) or WithGroup (group) call.
type derivation struct {
	attrs []slog.Attr
	group string
}

func (h *swapHandler) current() slog.Handler {
	inner := *h.root.Load()
	for _, d := range h.ops {
		if d.group != "" {
			inner = inner.WithGroup(d.group)
		} else {
			inner = inner.WithAttrs(d.attrs)
		}
	}
	return inner
}

func (h *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*h.root.Load()).Enabled(ctx, level)
}

func (h *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *swapHandler) derive(d derivation) *swapHandler {
	ops := make([]derivation, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &swapHandler{root: h.root, ops: append(ops, d)}
}

func (h *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(derivation{attrs: attrs})
}

func (h *swapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(derivation{group: name})
}

// Manager owns the logger and its output.
type Manager struct {
	console io.Writer
	level   *slog.LevelVar
	root    *atomic.Pointer[slog.Handler]

	mu     sync.Mutex
	config Config
	file   io.Closer
}

// NewManager creates a manager writing to stdout and returns the logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return NewManagerTo(os.Stdout, cfg)
}

// NewManagerTo is NewManager with an explicit console writer.
func NewManagerTo(console io.Writer, cfg Config) (*Manager, *slog.Logger) {
	m := &Manager{
		console: console,
		level:   &slog.LevelVar{},
		root:    &atomic.Pointer[slog.Handler]{},
		config:  cfg,
	}
	m.level.Set(ParseLevel(cfg.Level))
	m.install(cfg)
	return m, slog.New(&swapHandler{root: m.root})
}

// install builds the handler for cfg. Callers hold mu or own m.
func (m *Manager) install(cfg Config) {
	w := m.console
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    positive(cfg.FileMaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: positive(cfg.FileMaxFiles, DefaultMaxFiles),
			MaxAge:     positive(cfg.FileMaxAgeDays, DefaultMaxAgeDays),
		}
		w = io.MultiWriter(m.console, lj)
		m.file = lj
	}
	opts := &slog.HandlerOptions{Level: m.level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	m.root.Store(&h)
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// SetLevel changes the level of every derived logger.
func (m *Manager) SetLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level.Set(ParseLevel(level))
	m.config.Level = level
}

// Reconfigure applies cfg. Only output changes rebuild the handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level.Set(ParseLevel(cfg.Level))
	old := m.config
	m.config = cfg
	if cfg.Format == old.Format && cfg.FilePath == old.FilePath &&
		cfg.FileMaxSizeMB == old.FileMaxSizeMB && cfg.FileMaxFiles == old.FileMaxFiles &&
		cfg.FileMaxAgeDays == old.FileMaxAgeDays {
		return
	}
	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}
	m.install(cfg)
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close closes the log file, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// ParseLevel maps a level name onto slog.Level; unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a level.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// ValidFormat reports whether s names an output format.
func ValidFormat(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "json":
		return true
	}
	return false
}
