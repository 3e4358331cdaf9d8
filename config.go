// FILE: lixenwraith/funnel/config.go
package funnel

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/lixenwraith/config"
)

// Config holds all engine configuration values.
// Hook fields are injected programmatically and never loaded from file.
type Config struct {
	// Per-transport minimum severity
	ConsoleLevel int64 `toml:"console_level"`
	FileLevel    int64 `toml:"file_level"`

	// Transports
	EnableConsole bool   `toml:"enable_console"`
	ConsoleTarget string `toml:"console_target"` // "stdout" or "stderr"
	EnableFile    bool   `toml:"enable_file"`

	// Formatting, selected independently per transport
	ConsoleFormat   string `toml:"console_format"`   // "template" or "json"
	ConsoleTemplate string `toml:"console_template"` // token layout for the template formatter
	FileFormat      string `toml:"file_format"`
	FileTemplate    string `toml:"file_template"`
	TimestampFormat string `toml:"timestamp_format"`

	// Default path scheme, used when no PathResolver is injected
	Directory string `toml:"directory"`
	Name      string `toml:"name"`
	Extension string `toml:"extension"`

	// Origin of records emitted by this process
	OriginKind     string `toml:"origin_kind"`
	OriginInstance string `toml:"origin_instance"` // auto-generated when empty

	// Writer queue and rotation
	BufferSize   int64 `toml:"buffer_size"`
	MaxSizeBytes int64 `toml:"max_size_bytes"` // 0 disables rotation

	// Timers
	FlushIntervalMs    int64 `toml:"flush_interval_ms"`
	IdleCloseSec       int64 `toml:"idle_close_sec"`       // 0 disables idle stream closing
	HeartbeatIntervalS int64 `toml:"heartbeat_interval_s"` // 0 disables heartbeats

	// Received (routed) records are echoed to this process's console
	EchoRemote bool `toml:"echo_remote"`

	// Internal error handling
	InternalErrorsToStderr bool `toml:"internal_errors_to_stderr"`

	// Hooks, engine-injected
	Variables              Variables         `toml:"-"`
	PathResolver           PathResolver      `toml:"-"`
	ConsoleCustomFormatter func(*Record) any `toml:"-"`
	FileCustomFormatter    func(*Record) any `toml:"-"`
	ArchiveHook            ArchiveHook       `toml:"-"`
	ErrorReporter          ErrorReporter     `toml:"-"`
}

// consoleSpec bundles the console transport's formatter selection
func (c *Config) consoleSpec() formatSpec {
	return formatSpec{
		kind:     c.ConsoleFormat,
		template: c.ConsoleTemplate,
		custom:   c.ConsoleCustomFormatter,
	}
}

// fileSpec bundles the file transport's formatter selection
func (c *Config) fileSpec() formatSpec {
	return formatSpec{
		kind:     c.FileFormat,
		template: c.FileTemplate,
		custom:   c.FileCustomFormatter,
	}
}

// defaultConfig is the single source for all configurable default values
var defaultConfig = Config{
	ConsoleLevel: LevelInfo,
	FileLevel:    LevelSilly,

	EnableConsole: true,
	ConsoleTarget: "stdout",
	EnableFile:    true,

	ConsoleFormat:   "template",
	ConsoleTemplate: defaultTemplate,
	FileFormat:      "template",
	FileTemplate:    defaultTemplate,
	TimestampFormat: time.RFC3339Nano,

	Directory: "./logs",
	Name:      "main",
	Extension: "log",

	OriginKind: KindCoordinator,

	BufferSize:   1024,
	MaxSizeBytes: 0,

	FlushIntervalMs:    100,
	IdleCloseSec:       0,
	HeartbeatIntervalS: 0,

	EchoRemote: false,

	InternalErrorsToStderr: false,
}

// DefaultConfig returns a copy of the default configuration
func DefaultConfig() *Config {
	copiedConfig := defaultConfig
	return &copiedConfig
}

// NewConfigFromFile loads configuration from a TOML file and returns a validated Config
func NewConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Use lixenwraith/config as a loader
	loader := config.New()

	if err := loader.RegisterStruct("funnel.", *cfg); err != nil {
		return nil, fmt.Errorf("failed to register config struct: %w", err)
	}

	if err := loader.Load(path, nil); err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := extractConfig(loader, "funnel.", cfg); err != nil {
		return nil, fmt.Errorf("failed to extract config values: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// extractConfig extracts values from lixenwraith/config into the Config struct
func extractConfig(loader *config.Config, prefix string, cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		tomlTag := field.Tag.Get("toml")
		if tomlTag == "" || tomlTag == "-" {
			continue
		}

		key := prefix + tomlTag
		val, found := loader.Get(key)
		if !found {
			continue // Use default value
		}

		if err := setFieldValue(fieldValue, val); err != nil {
			return fmt.Errorf("failed to set field %s: %w", field.Name, err)
		}
	}

	return nil
}

// setFieldValue sets a reflect.Value with proper type conversion
func setFieldValue(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.String:
		strVal, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		field.SetString(strVal)

	case reflect.Int64:
		switch v := value.(type) {
		case int64:
			field.SetInt(v)
		case int:
			field.SetInt(int64(v))
		default:
			return fmt.Errorf("expected int64, got %T", value)
		}

	case reflect.Bool:
		boolVal, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		field.SetBool(boolVal)

	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

// applyConfigField applies a single string key=value override to the config
func applyConfigField(cfg *Config, key, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		tomlTag := t.Field(i).Tag.Get("toml")
		if tomlTag != key || tomlTag == "-" {
			continue
		}

		field := v.Field(i)
		switch field.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int64:
			// Level fields accept names as well as numbers
			if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
				field.SetInt(parsed)
			} else if lvl, lvlErr := Level(value); lvlErr == nil && strings.HasSuffix(key, "_level") {
				field.SetInt(lvl)
			} else {
				return fmtErrorf("invalid integer value for %s: '%s'", key, value)
			}
		case reflect.Bool:
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmtErrorf("invalid boolean value for %s: '%s'", key, value)
			}
			field.SetBool(parsed)
		default:
			return fmtErrorf("unsupported override type for %s", key)
		}
		return nil
	}

	return fmtErrorf("unknown config key: %s", key)
}

// combineConfigErrors merges override errors into one
func combineConfigErrors(errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmtErrorf("configuration errors: %s", strings.Join(msgs, "; "))
}

// validateFormat checks one transport's formatter selection
func validateFormat(transport, format, template string) error {
	if format != "template" && format != "json" {
		return fmtErrorf("invalid %s_format: '%s' (use template or json)", transport, format)
	}
	if format == "template" && strings.TrimSpace(template) == "" {
		return fmtErrorf("%s_template cannot be empty when %s_format is template", transport, transport)
	}
	return nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if err := validateFormat("console", c.ConsoleFormat, c.ConsoleTemplate); err != nil {
		return err
	}
	if err := validateFormat("file", c.FileFormat, c.FileTemplate); err != nil {
		return err
	}

	if strings.TrimSpace(c.TimestampFormat) == "" {
		return fmtErrorf("timestamp_format cannot be empty")
	}

	if c.ConsoleTarget != "stdout" && c.ConsoleTarget != "stderr" {
		return fmtErrorf("invalid console_target: '%s' (use stdout or stderr)", c.ConsoleTarget)
	}

	if c.EnableFile && c.PathResolver == nil {
		if strings.TrimSpace(c.Name) == "" {
			return fmtErrorf("name cannot be empty")
		}
		if strings.HasPrefix(c.Extension, ".") {
			return fmtErrorf("extension should not start with dot: %s", c.Extension)
		}
	}

	if strings.TrimSpace(c.OriginKind) == "" {
		return fmtErrorf("origin_kind cannot be empty")
	}

	if c.BufferSize <= 0 {
		return fmtErrorf("buffer_size must be positive: %d", c.BufferSize)
	}

	if c.MaxSizeBytes < 0 {
		return fmtErrorf("max_size_bytes cannot be negative: %d", c.MaxSizeBytes)
	}

	if c.FlushIntervalMs <= 0 {
		return fmtErrorf("flush_interval_ms must be positive: %d", c.FlushIntervalMs)
	}

	if c.IdleCloseSec < 0 || c.HeartbeatIntervalS < 0 {
		return fmtErrorf("timer settings cannot be negative")
	}

	return nil
}

// Clone creates a copy of the configuration.
// Hook references and the variables map are shared, not deep-copied.
func (c *Config) Clone() *Config {
	copiedConfig := *c
	return &copiedConfig
}

// Level converts a level name to its numeric constant
func Level(levelStr string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "silly":
		return LevelSilly, nil
	case "debug":
		return LevelDebug, nil
	case "verbose":
		return LevelVerbose, nil
	case "info":
		return LevelInfo, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmtErrorf("invalid level string: '%s' (use silly, debug, verbose, info, warn, error)", levelStr)
	}
}

// levelToString renders a level for formatted output
func levelToString(level int64) string {
	switch level {
	case LevelSilly:
		return "SILLY"
	case LevelDebug:
		return "DEBUG"
	case LevelVerbose:
		return "VERBOSE"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelProc:
		return "PROC"
	default:
		return fmt.Sprintf("LEVEL(%d)", level)
	}
}

// parseKeyValue splits a "key=value" string
func parseKeyValue(arg string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(arg), "=", 2)
	if len(parts) != 2 {
		return "", "", fmtErrorf("invalid format in override string '%s', expected key=value", arg)
	}
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])
	if key == "" {
		return "", "", fmtErrorf("key cannot be empty in override string '%s'", arg)
	}
	return key, value, nil
}
