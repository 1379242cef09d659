package logging

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Level is a log severity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogRecord is the normalized record every transport receives.
type LogRecord struct {
	Timestamp time.Time              `json:"ts"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Transport is one log output channel.
type Transport interface {
	// Name returns the transport name, for debugging.
	Name() string
	// Log writes a single record.
	Log(ctx context.Context, rec *LogRecord) error
	// Flush drains any buffering.
	Flush(ctx context.Context) error
}

// Logger fans records out to its transports.
type Logger struct {
	mu         sync.RWMutex
	level      Level
	transports []Transport
}

// NewLogger creates a Logger writing at the given minimum level.
func NewLogger(level Level, transports ...Transport) *Logger {
	return &Logger{
		level:      level,
		transports: transports,
	}
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// AddTransport attaches an additional transport at runtime.
func (l *Logger) AddTransport(t Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transports = append(l.transports, t)
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	rec := &LogRecord{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.transports {
		_ = t.Log(ctx, rec)
	}
}

func (l *Logger) enabled(level Level) bool {
	order := map[Level]int{
		LevelDebug: 1,
		LevelInfo:  2,
		LevelWarn:  3,
		LevelError: 4,
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return order[level] >= order[l.level]
}

func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelError, msg, fields)
}

// Flush flushes all transports.
func (l *Logger) Flush(ctx context.Context) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.transports {
		_ = t.Flush(ctx)
	}
}

// =========================
// Stdout transport
// =========================

// StdoutTransport writes records as JSON lines to stdout.
type StdoutTransport struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewStdoutTransport() *StdoutTransport {
	return &StdoutTransport{
		encoder: json.NewEncoder(os.Stdout),
	}
}

func (t *StdoutTransport) Name() string { return "stdout" }

func (t *StdoutTransport) Log(ctx context.Context, rec *LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encoder.Encode(rec)
}

func (t *StdoutTransport) Flush(ctx context.Context) error {
	return nil
}

// =========================
// File transport
// =========================

// FileTransport appends records as JSON lines to a file.
type FileTransport struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

func NewFileTransport(path string) (*FileTransport, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &FileTransport{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

func (t *FileTransport) Name() string { return "file" }

func (t *FileTransport) Log(ctx context.Context, rec *LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encoder.Encode(rec)
}

func (t *FileTransport) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Sync()
}

// Close closes the underlying file.
func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// Default is the process-wide logger used by the package helpers below.
var Default = NewLogger(LevelInfo, NewStdoutTransport())

func Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Debug(ctx, msg, fields)
}

func Info(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Info(ctx, msg, fields)
}

func Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Warn(ctx, msg, fields)
}

func Error(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Error(ctx, msg, fields)
}

func Flush(ctx context.Context) {
	Default.Flush(ctx)
}
