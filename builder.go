// FILE: lixenwraith/funnel/builder.go
package funnel

// Builder provides a fluent API for building engine configurations.
// It wraps a Config instance and provides chainable methods for setting values.
type Builder struct {
	cfg *Config
	err error // Accumulate errors for deferred handling
}

// NewBuilder creates a new configuration builder with default values
func NewBuilder() *Builder {
	return &Builder{
		cfg: DefaultConfig(),
	}
}

// Build creates a new Logger instance with the specified configuration
func (b *Builder) Build() (*Logger, error) {
	if b.err != nil {
		return nil, b.err
	}

	logger := NewLogger()
	if err := logger.ApplyConfig(b.cfg); err != nil {
		return nil, err
	}

	return logger, nil
}

// ConsoleLevel sets the console transport's minimum severity
func (b *Builder) ConsoleLevel(level int64) *Builder {
	b.cfg.ConsoleLevel = level
	return b
}

// ConsoleLevelString sets the console transport's minimum severity from a name
func (b *Builder) ConsoleLevelString(level string) *Builder {
	if b.err != nil {
		return b
	}
	levelVal, err := Level(level)
	if err != nil {
		b.err = err
		return b
	}
	b.cfg.ConsoleLevel = levelVal
	return b
}

// FileLevel sets the file transport's minimum severity
func (b *Builder) FileLevel(level int64) *Builder {
	b.cfg.FileLevel = level
	return b
}

// FileLevelString sets the file transport's minimum severity from a name
func (b *Builder) FileLevelString(level string) *Builder {
	if b.err != nil {
		return b
	}
	levelVal, err := Level(level)
	if err != nil {
		b.err = err
		return b
	}
	b.cfg.FileLevel = levelVal
	return b
}

// Directory sets the log directory for the default path scheme
func (b *Builder) Directory(dir string) *Builder {
	b.cfg.Directory = dir
	return b
}

// Name sets the base file name for the default path scheme
func (b *Builder) Name(name string) *Builder {
	b.cfg.Name = name
	return b
}

// Format sets the output format ("template" or "json") for both transports
func (b *Builder) Format(format string) *Builder {
	b.cfg.ConsoleFormat = format
	b.cfg.FileFormat = format
	return b
}

// ConsoleFormat sets the console transport's output format
func (b *Builder) ConsoleFormat(format string) *Builder {
	b.cfg.ConsoleFormat = format
	return b
}

// FileFormat sets the file transport's output format
func (b *Builder) FileFormat(format string) *Builder {
	b.cfg.FileFormat = format
	return b
}

// Template sets the template formatter layout for both transports
func (b *Builder) Template(template string) *Builder {
	b.cfg.ConsoleTemplate = template
	b.cfg.FileTemplate = template
	return b
}

// ConsoleTemplate sets the console transport's template layout
func (b *Builder) ConsoleTemplate(template string) *Builder {
	b.cfg.ConsoleTemplate = template
	return b
}

// FileTemplate sets the file transport's template layout
func (b *Builder) FileTemplate(template string) *Builder {
	b.cfg.FileTemplate = template
	return b
}

// Origin sets the process kind and instance of emitted records
func (b *Builder) Origin(kind, instance string) *Builder {
	b.cfg.OriginKind = kind
	b.cfg.OriginInstance = instance
	return b
}

// BufferSize sets the writer queue size
func (b *Builder) BufferSize(size int64) *Builder {
	b.cfg.BufferSize = size
	return b
}

// MaxSizeBytes sets the rotation threshold; 0 disables rotation
func (b *Builder) MaxSizeBytes(size int64) *Builder {
	b.cfg.MaxSizeBytes = size
	return b
}

// EnableConsole toggles the console transport
func (b *Builder) EnableConsole(enable bool) *Builder {
	b.cfg.EnableConsole = enable
	return b
}

// EnableFile toggles the file transport
func (b *Builder) EnableFile(enable bool) *Builder {
	b.cfg.EnableFile = enable
	return b
}

// Variables sets the engine variables made available to path resolvers
func (b *Builder) Variables(vars Variables) *Builder {
	b.cfg.Variables = vars
	return b
}

// PathResolver injects the directory layout policy
func (b *Builder) PathResolver(resolver PathResolver) *Builder {
	b.cfg.PathResolver = resolver
	return b
}

// CustomFormatter injects a structured formatter used by both transports
// when their format is "json"
func (b *Builder) CustomFormatter(f func(*Record) any) *Builder {
	b.cfg.ConsoleCustomFormatter = f
	b.cfg.FileCustomFormatter = f
	return b
}

// ConsoleCustomFormatter injects a structured formatter for the console transport
func (b *Builder) ConsoleCustomFormatter(f func(*Record) any) *Builder {
	b.cfg.ConsoleCustomFormatter = f
	return b
}

// FileCustomFormatter injects a structured formatter for the file transport
func (b *Builder) FileCustomFormatter(f func(*Record) any) *Builder {
	b.cfg.FileCustomFormatter = f
	return b
}

// ArchiveHook injects the pre-rotation archival hook
func (b *Builder) ArchiveHook(hook ArchiveHook) *Builder {
	b.cfg.ArchiveHook = hook
	return b
}

// ErrorReporter injects the side-channel failure reporter
func (b *Builder) ErrorReporter(reporter ErrorReporter) *Builder {
	b.cfg.ErrorReporter = reporter
	return b
}

// Example usage:
//
//	logger, err := funnel.NewBuilder().
//		Directory("/var/log/app").
//		FileLevelString("silly").
//		ConsoleLevelString("info").
//		MaxSizeBytes(10 * 1024 * 1024).
//		ArchiveHook(funnel.GzipArchiver).
//		Build()
//
// if err == nil {
//
//	 defer logger.Shutdown()
//	 logger.Start()
//	 logger.Info("engine initialized")
//
// }
