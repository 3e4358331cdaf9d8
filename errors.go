// FILE: lixenwraith/funnel/errors.go
package funnel

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Error kinds for the engine's failure taxonomy. Logging failures never
// propagate to the emitting call site; they surface only through the
// configured ErrorReporter.
var (
	ErrTransportUnavailable  = errors.New("funnel: transport unavailable")
	ErrResolutionFailed      = errors.New("funnel: path resolution failed")
	ErrRotationFailed        = errors.New("funnel: rotation failed")
	ErrArchiveHookFailed     = errors.New("funnel: archive hook failed")
	ErrTransportDisconnected = errors.New("funnel: transport disconnected")
)

// ErrorReporter is the side-channel hook for engine failures.
// It is best-effort: a reporter that panics is swallowed.
type ErrorReporter func(err error)

// report wraps a failure with its taxonomy kind and hands it to the reporter
func (e *engine) report(kind error, format string, args ...any) {
	e.reportErr(fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)))
}

func (e *engine) reportErr(err error) {
	cfg := e.getConfig()
	if cfg.ErrorReporter != nil {
		func() {
			defer func() { _ = recover() }()
			cfg.ErrorReporter(err)
		}()
		return
	}
	e.internalLog("%v\n", err)
}

// internalLog writes engine diagnostics to stderr, if enabled
func (e *engine) internalLog(format string, args ...any) {
	cfg := e.getConfig()
	if cfg == nil || !cfg.InternalErrorsToStderr {
		return
	}
	if !strings.HasPrefix(format, "funnel: ") {
		format = "funnel: " + format
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

// fmtErrorf wrapper
func fmtErrorf(format string, args ...any) error {
	if !strings.HasPrefix(format, "funnel: ") {
		format = "funnel: " + format
	}
	return fmt.Errorf(format, args...)
}

// combineErrors helper
func combineErrors(err1, err2 error) error {
	if err1 == nil {
		return err2
	}
	if err2 == nil {
		return err1
	}
	return fmt.Errorf("%v; %w", err1, err2)
}
