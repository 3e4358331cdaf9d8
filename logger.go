// FILE: lixenwraith/funnel/logger.go
package funnel

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// engine is the shared core behind all scoped Logger handles
type engine struct {
	currentConfig atomic.Value // stores *Config
	state         State
	initMu        sync.Mutex
	consoleMu     sync.Mutex // orders console writes within this process

	origin atomic.Value // stores Origin; read by every emitter, swapped on reconfiguration

	fileSer    *serializer // owned by the writer goroutine
	consoleSer *serializer // guarded by consoleMu

	streams map[string]*fileStream // owned by the writer goroutine

	forwarder atomic.Value // stores Forwarder; set on non-authoritative processes
}

// Forwarder carries records to the authoritative process. Send must be
// fire-and-forget: it never blocks the caller and never returns an error
// into application control flow.
type Forwarder interface {
	Send(r *Record)
}

// Logger is a scoped emission handle over a shared engine. Handles are
// cheap; WithScope derives one per subsystem.
type Logger struct {
	*engine
	scope string
}

// NewLogger creates a new Logger instance with default settings
func NewLogger() *Logger {
	e := &engine{
		fileSer:    newSerializer(),
		consoleSer: newSerializer(),
		streams:    make(map[string]*fileStream),
	}

	e.currentConfig.Store(DefaultConfig())
	e.origin.Store(Origin{})

	e.state.IsInitialized.Store(false)
	e.state.EngineDisabled.Store(false)
	e.state.ShutdownCalled.Store(false)
	e.state.ProcessorExited.Store(true)
	e.state.StartTime.Store(time.Now())

	// Create a closed channel initially to prevent nil pointer issues
	initialChan := make(chan queueItem)
	close(initialChan)
	e.state.ActiveQueue.Store(initialChan)

	e.state.flushRequestChan = make(chan chan struct{}, 1)
	e.state.ConsoleWriter.Store(&sink{w: io.Discard})

	return &Logger{engine: e}
}

// WithScope derives a handle that tags every record with the given scope
func (l *Logger) WithScope(scope string) *Logger {
	return &Logger{engine: l.engine, scope: scope}
}

// Scope returns the handle's scope label
func (l *Logger) Scope() string {
	return l.scope
}

// ApplyConfig applies a validated configuration to the engine.
// This is the primary way applications should configure the logger.
func (e *engine) ApplyConfig(cfg *Config) error {
	if cfg == nil {
		return fmtErrorf("configuration cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmtErrorf("invalid configuration: %w", err)
	}

	e.initMu.Lock()
	defer e.initMu.Unlock()

	return e.applyConfig(cfg)
}

// ApplyConfigString applies string key-value overrides to the current configuration.
// Each override should be in the format "key=value".
func (e *engine) ApplyConfigString(overrides ...string) error {
	cfg := e.getConfig().Clone()

	var errs []error
	for _, override := range overrides {
		key, value, err := parseKeyValue(override)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := applyConfigField(cfg, key, value); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return combineConfigErrors(errs)
	}

	return e.ApplyConfig(cfg)
}

// GetConfig returns a copy of current configuration
func (e *engine) GetConfig() *Config {
	return e.getConfig().Clone()
}

// SetForwarder routes all file-bound records through the given forwarder
// instead of the local writer. Call on non-authoritative processes before
// Start; pass nil to restore local writing.
func (e *engine) SetForwarder(f Forwarder) {
	if f == nil {
		e.forwarder.Store((*forwarderBox)(nil))
		return
	}
	e.forwarder.Store(&forwarderBox{f: f})
}

// forwarderBox is an atomic.Value type change workaround
type forwarderBox struct {
	f Forwarder
}

func (e *engine) getForwarder() Forwarder {
	boxed, _ := e.forwarder.Load().(*forwarderBox)
	if boxed == nil {
		return nil
	}
	return boxed.f
}

// Start begins the writer goroutine. Safe to call multiple times.
// Returns error if the engine is not initialized.
func (e *engine) Start() error {
	if !e.state.IsInitialized.Load() {
		return fmtErrorf("engine not initialized, call ApplyConfig first")
	}

	if e.state.Started.Load() && !e.state.ProcessorExited.Load() {
		return nil // Already running
	}

	if e.state.Started.CompareAndSwap(false, true) {
		cfg := e.getConfig()

		queue := make(chan queueItem, cfg.BufferSize)
		e.state.ActiveQueue.Store(queue)

		e.state.ProcessorExited.Store(false)
		go e.processRecords(queue)
	}

	return nil
}

// Stop halts the writer. Can be restarted with Start().
// Returns nil if already stopped.
func (e *engine) Stop(timeout ...time.Duration) error {
	if !e.state.Started.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	var effectiveTimeout time.Duration
	if len(timeout) > 0 {
		effectiveTimeout = timeout[0]
	} else {
		cfg := e.getConfig()
		effectiveTimeout = 2 * time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	}

	ch := e.getActiveQueue()
	if ch != nil {
		closedChan := make(chan queueItem)
		close(closedChan)
		e.state.ActiveQueue.Store(closedChan)
		close(ch)
	}

	deadline := time.Now().Add(effectiveTimeout)
	for time.Now().Before(deadline) {
		if e.state.ProcessorExited.Load() {
			break
		}
		time.Sleep(minWaitTime)
	}

	if !e.state.ProcessorExited.Load() {
		return fmtErrorf("writer did not exit within timeout (%v)", effectiveTimeout)
	}

	return nil
}

// Shutdown gracefully closes the engine, attempting to flush pending records.
// If no timeout is provided, uses a default of 2x flush interval.
func (e *engine) Shutdown(timeout ...time.Duration) error {
	if !e.state.ShutdownCalled.CompareAndSwap(false, true) {
		return nil
	}

	e.state.EngineDisabled.Store(true)

	if !e.state.IsInitialized.Load() {
		e.state.ShutdownCalled.Store(false)
		e.state.EngineDisabled.Store(false)
		e.state.ProcessorExited.Store(true)
		return nil
	}

	var stopErr error
	if e.state.Started.Load() {
		stopErr = e.Stop(timeout...)
	}

	e.state.IsInitialized.Store(false)

	// Streams are closed by the writer on queue close; anything left here
	// means the writer timed out and handles are reclaimed best-effort
	var finalErr error
	if stopErr != nil {
		finalErr = combineErrors(finalErr, stopErr)
	}

	return finalErr
}

// Flush triggers a sync of all open file streams and waits for completion or timeout
func (e *engine) Flush(timeout time.Duration) error {
	e.state.flushMutex.Lock()
	defer e.state.flushMutex.Unlock()

	if !e.state.IsInitialized.Load() || e.state.ShutdownCalled.Load() {
		return fmtErrorf("engine not initialized or already shut down")
	}
	if !e.state.Started.Load() {
		return fmtErrorf("engine not started")
	}

	confirmChan := make(chan struct{})

	select {
	case e.state.flushRequestChan <- confirmChan:
		// Request sent
	case <-time.After(minWaitTime):
		return fmtErrorf("failed to send flush request to writer (possible deadlock or high load)")
	}

	select {
	case <-confirmChan:
		return nil
	case <-time.After(timeout):
		return fmtErrorf("timeout waiting for flush confirmation (%v)", timeout)
	}
}

// Emission surface: one call per severity level, variadic payload.
// All calls are fire-and-forget; logging failures never reach the caller.

// Silly logs a message at silly level
func (l *Logger) Silly(args ...any) {
	l.emit(LevelSilly, args)
}

// Debug logs a message at debug level
func (l *Logger) Debug(args ...any) {
	l.emit(LevelDebug, args)
}

// Verbose logs a message at verbose level
func (l *Logger) Verbose(args ...any) {
	l.emit(LevelVerbose, args)
}

// Info logs a message at info level
func (l *Logger) Info(args ...any) {
	l.emit(LevelInfo, args)
}

// Warn logs a message at warning level
func (l *Logger) Warn(args ...any) {
	l.emit(LevelWarn, args)
}

// Error logs a message at error level
func (l *Logger) Error(args ...any) {
	l.emit(LevelError, args)
}

// emit creates the record once and fans it out to the transports
func (l *Logger) emit(level int64, args []any) {
	e := l.engine
	if !e.state.IsInitialized.Load() || e.state.EngineDisabled.Load() {
		return
	}

	cfg := e.getConfig()

	rec := &Record{
		TimeStamp: time.Now(),
		Level:     level,
		Origin:    e.getOrigin(),
		Scope:     l.scope,
		Payload:   args,
	}

	// Console is always local to the emitting process
	if cfg.EnableConsole && shouldEmit(level, cfg.ConsoleLevel) {
		e.writeConsole(cfg, rec)
	}

	// File pipeline: gate before any transport or routing work
	if !shouldEmit(level, cfg.FileLevel) {
		return
	}

	if fwd := e.getForwarder(); fwd != nil {
		fwd.Send(rec)
		return
	}

	if cfg.EnableFile {
		e.enqueue(rec, 0)
	}
}

// Ingest accepts a record delivered by the IPC router as if locally
// emitted: it flows through this process's gates, formatting and file
// pipeline. Origin is preserved from the source process.
func (e *engine) Ingest(r *Record) {
	if r == nil || !e.state.IsInitialized.Load() || e.state.EngineDisabled.Load() {
		return
	}

	cfg := e.getConfig()

	if cfg.EchoRemote && cfg.EnableConsole && shouldEmit(r.Level, cfg.ConsoleLevel) {
		e.writeConsole(cfg, r)
	}

	if !cfg.EnableFile || !shouldEmit(r.Level, cfg.FileLevel) {
		return
	}

	e.enqueue(r, 0)
}

// getConfig returns the current configuration (thread-safe)
func (e *engine) getConfig() *Config {
	return e.currentConfig.Load().(*Config)
}

// getOrigin returns the configured origin (thread-safe)
func (e *engine) getOrigin() Origin {
	o, _ := e.origin.Load().(Origin)
	return o
}

// getActiveQueue safely retrieves the current writer queue
func (e *engine) getActiveQueue() chan queueItem {
	ch := e.state.ActiveQueue.Load()
	return ch.(chan queueItem)
}

// applyConfig is the internal implementation, assuming initMu is held
func (e *engine) applyConfig(cfg *Config) error {
	oldCfg := e.getConfig()
	e.currentConfig.Store(cfg)

	// Origin is fixed at configuration time; the instance identifier is
	// generated once per process when not provided
	prev := e.getOrigin()
	instance := cfg.OriginInstance
	if instance == "" {
		if prev.Instance != "" && prev.Kind == cfg.OriginKind {
			instance = prev.Instance
		} else {
			instance = newInstanceID()
		}
	}
	e.origin.Store(Origin{Kind: cfg.OriginKind, Instance: instance})

	// Ensure the static log directory exists when the default resolver is active
	if cfg.EnableFile && cfg.PathResolver == nil {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			e.state.EngineDisabled.Store(true)
			e.currentConfig.Store(oldCfg) // Rollback
			return fmtErrorf("failed to create log directory '%s': %w", cfg.Directory, err)
		}
	}

	// Restart the writer if queue sizing changed while running
	wasStarted := e.state.Started.Load()
	needsRestart := wasStarted && e.state.IsInitialized.Load() &&
		oldCfg.BufferSize != cfg.BufferSize

	if needsRestart {
		if err := e.Stop(); err != nil {
			e.currentConfig.Store(oldCfg) // Rollback
			return fmtErrorf("failed to stop writer for restart: %w", err)
		}
	}

	// Console sink per config
	if cfg.EnableConsole {
		var writer io.Writer
		if cfg.ConsoleTarget == "stderr" {
			writer = os.Stderr
		} else {
			writer = os.Stdout
		}
		e.state.ConsoleWriter.Store(&sink{w: writer})
	} else {
		e.state.ConsoleWriter.Store(&sink{w: io.Discard})
	}

	e.consoleMu.Lock()
	e.consoleSer.setTimestampFormat(cfg.TimestampFormat)
	e.consoleMu.Unlock()

	e.state.IsInitialized.Store(true)
	e.state.ShutdownCalled.Store(false)
	e.state.EngineDisabled.Store(false)

	if needsRestart {
		return e.Start()
	}

	return nil
}
