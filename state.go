// FILE: lixenwraith/funnel/state.go
package funnel

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// State encapsulates the runtime state of the engine
type State struct {
	IsInitialized   atomic.Bool
	EngineDisabled  atomic.Bool
	ShutdownCalled  atomic.Bool
	Started         atomic.Bool
	ProcessorExited atomic.Bool // Tracks if the writer goroutine is running or has exited

	flushRequestChan chan chan struct{} // Channel to request a flush
	flushMutex       sync.Mutex         // Protect concurrent Flush calls

	ActiveQueue   atomic.Value // stores chan queueItem
	ConsoleWriter atomic.Value // stores *sink

	// Counters
	DroppedRecords    atomic.Uint64 // Records dropped at the writer queue
	TotalProcessed    atomic.Uint64 // Records persisted to file
	TotalRotations    atomic.Uint64 // Successful rotations
	TotalDegraded     atomic.Uint64 // Streams that entered the degraded state
	StartTime         atomic.Value  // stores time.Time
	HeartbeatSequence atomic.Uint64
}

// sink is a wrapper around an io.Writer, atomic value type change workaround
type sink struct {
	w io.Writer
}

// Stats is a point-in-time snapshot of engine counters
type Stats struct {
	Processed uint64
	Dropped   uint64
	Rotations uint64
	Degraded  uint64
	Uptime    time.Duration
}

// Stats returns a snapshot of the engine counters
func (e *engine) Stats() Stats {
	s := Stats{
		Processed: e.state.TotalProcessed.Load(),
		Dropped:   e.state.DroppedRecords.Load(),
		Rotations: e.state.TotalRotations.Load(),
		Degraded:  e.state.TotalDegraded.Load(),
	}
	if start, ok := e.state.StartTime.Load().(time.Time); ok && !start.IsZero() {
		s.Uptime = time.Since(start)
	}
	return s
}
