package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levelsByName = map[string]zapcore.Level{
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
}

// NewLogger returns a zap logger configured for structured production
// logging. Unknown level names fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	parsed, known := levelsByName[strings.ToLower(strings.TrimSpace(level))]
	if !known {
		parsed = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
