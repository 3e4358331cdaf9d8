// FILE: lixenwraith/funnel/compat/builder.go
package compat

import (
	"fmt"

	"github.com/lixenwraith/funnel"
)

// Builder provides a flexible way to create configured logger adapters
// for gnet and fasthttp. It can use an existing *funnel.Logger instance
// or create a new one from a *funnel.Config.
type Builder struct {
	logger *funnel.Logger
	logCfg *funnel.Config
	err    error
}

// NewBuilder creates a new adapter builder
func NewBuilder() *Builder {
	return &Builder{}
}

// WithLogger specifies an existing logger to use for the adapters.
// Recommended for applications that already have a central logger instance.
// If this is set WithConfig is ignored.
func (b *Builder) WithLogger(l *funnel.Logger) *Builder {
	if l == nil {
		b.err = fmt.Errorf("funnel/compat: provided logger cannot be nil")
		return b
	}
	b.logger = l
	return b
}

// WithConfig provides a configuration for a new logger instance.
// This is used only if an existing logger is NOT provided via WithLogger.
func (b *Builder) WithConfig(cfg *funnel.Config) *Builder {
	b.logCfg = cfg
	return b
}

// getLogger resolves the logger to be used, creating one if necessary
func (b *Builder) getLogger() (*funnel.Logger, error) {
	if b.err != nil {
		return nil, b.err
	}

	if b.logger != nil {
		return b.logger, nil
	}

	l := funnel.NewLogger()
	cfg := b.logCfg
	if cfg == nil {
		cfg = funnel.DefaultConfig()
	}

	if err := l.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	if err := l.Start(); err != nil {
		return nil, err
	}

	// Cache the newly created logger for subsequent builds with this builder
	b.logger = l
	return l, nil
}

// BuildGnet creates a gnet adapter
func (b *Builder) BuildGnet(opts ...GnetOption) (*GnetAdapter, error) {
	l, err := b.getLogger()
	if err != nil {
		return nil, err
	}
	return NewGnetAdapter(l, opts...), nil
}

// BuildFastHTTP creates a fasthttp adapter
func (b *Builder) BuildFastHTTP(opts ...FastHTTPOption) (*FastHTTPAdapter, error) {
	l, err := b.getLogger()
	if err != nil {
		return nil, err
	}
	return NewFastHTTPAdapter(l, opts...), nil
}

// GetLogger returns the underlying *funnel.Logger instance.
// If a logger has not been provided or created yet, it will be initialized.
func (b *Builder) GetLogger() (*funnel.Logger, error) {
	return b.getLogger()
}
