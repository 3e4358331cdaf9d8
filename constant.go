// FILE: lixenwraith/funnel/constant.go
package funnel

import (
	"time"
)

// Severity levels, totally ordered for gating
const (
	LevelSilly   int64 = -12
	LevelDebug   int64 = -8
	LevelVerbose int64 = -4
	LevelInfo    int64 = 0
	LevelWarn    int64 = 4
	LevelError   int64 = 8
)

// LevelProc marks internal heartbeat records, sits above any gate threshold
const LevelProc int64 = 12

// Default token layout, shared by both transports until overridden
const defaultTemplate = "{h}:{i}:{s}.{ms} {level} [{origin}]{scope} {text}"

// Process kinds carried by Record.Origin
const (
	KindCoordinator = "coordinator"
	KindFrontend    = "frontend"
	KindWorker      = "worker"
)

// Rotation
const (
	// Consecutive rotation failures before a stream degrades to unbounded append
	degradedFailureThreshold = 2
	// Infix inserted before the extension on the displaced file
	oldFileInfix = "old"
)

// Timers
const (
	// Minimum wait time used throughout the package
	minWaitTime = 10 * time.Millisecond
	// Timeout for handing a manual rotation request to the writer
	rotateRequestTimeout = 500 * time.Millisecond
)
