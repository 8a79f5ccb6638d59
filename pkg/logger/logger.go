// Package logger emits one JSON object per log line.
package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel maps LOG_LEVEL values to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return LevelInfo
}

type jsonLogger struct {
	serviceName string
	minLevel    Level
	mu          sync.Mutex
	logger      *log.Logger
	exit        func(int)
}

func New(serviceName string) Logger {
	return NewWithLevel(serviceName, LevelInfo, os.Stdout)
}

// NewWithLevel returns a logger that drops entries below min and writes to out.
func NewWithLevel(serviceName string, min Level, out io.Writer) Logger {
	return &jsonLogger{
		serviceName: serviceName,
		minLevel:    min,
		logger:      log.New(out, "", 0),
		exit:        os.Exit,
	}
}

func (l *jsonLogger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.minLevel {
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"service":   l.serviceName,
		"message":   message,
	}

	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}

	jsonData, _ := json.Marshal(entry)
	l.mu.Lock()
	l.logger.Println(string(jsonData))
	l.mu.Unlock()
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.log(LevelInfo, message, fields)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.log(LevelError, message, fields)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.log(LevelWarn, message, fields)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.log(LevelDebug, message, fields)
}

func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	l.log(LevelFatal, message, fields)
	l.exit(1)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
