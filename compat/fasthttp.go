// FILE: lixenwraith/funnel/compat/fasthttp.go
package compat

import (
	"fmt"
	"strings"

	"github.com/lixenwraith/funnel"
)

// FastHTTPAdapter wraps a funnel.Logger to implement fasthttp's Logger
// interface
type FastHTTPAdapter struct {
	logger        *funnel.Logger
	defaultLevel  int64
	levelDetector func(string) int64 // Function to detect log level from message
}

// NewFastHTTPAdapter creates a new fasthttp-compatible logger adapter
func NewFastHTTPAdapter(logger *funnel.Logger, opts ...FastHTTPOption) *FastHTTPAdapter {
	adapter := &FastHTTPAdapter{
		logger:        logger.WithScope("fasthttp"),
		defaultLevel:  funnel.LevelInfo,
		levelDetector: DetectLogLevel, // Default level detection
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// FastHTTPOption allows customizing adapter behavior
type FastHTTPOption func(*FastHTTPAdapter)

// WithDefaultLevel sets the default log level for Printf calls
func WithDefaultLevel(level int64) FastHTTPOption {
	return func(a *FastHTTPAdapter) {
		a.defaultLevel = level
	}
}

// WithLevelDetector sets a custom function to detect log level from message content
func WithLevelDetector(detector func(string) int64) FastHTTPOption {
	return func(a *FastHTTPAdapter) {
		a.levelDetector = detector
	}
}

// Printf implements fasthttp's Logger interface
func (a *FastHTTPAdapter) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	level := a.defaultLevel
	if a.levelDetector != nil {
		if detected := a.levelDetector(msg); detected != 0 {
			level = detected
		}
	}

	switch level {
	case funnel.LevelDebug:
		a.logger.Debug(msg)
	case funnel.LevelWarn:
		a.logger.Warn(msg)
	case funnel.LevelError:
		a.logger.Error(msg)
	default:
		a.logger.Info(msg)
	}
}

// DetectLogLevel attempts to detect log level from message content
func DetectLogLevel(msg string) int64 {
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "error"),
		strings.Contains(msgLower, "failed"),
		strings.Contains(msgLower, "panic"):
		return funnel.LevelError
	case strings.Contains(msgLower, "warn"),
		strings.Contains(msgLower, "deprecated"):
		return funnel.LevelWarn
	case strings.Contains(msgLower, "debug"),
		strings.Contains(msgLower, "trace"):
		return funnel.LevelDebug
	default:
		return 0
	}
}
