// FILE: lixenwraith/funnel/writer.go
package funnel

import (
	"time"
)

// queueItem is one unit of work for the writer goroutine: either a
// record to persist or a manual rotation request
type queueItem struct {
	rec             *Record
	rotatePath      string // non-empty requests rotation of that path
	unreportedDrops uint64 // carried by synthetic drop-report records
}

// enqueue hands a record to the writer without ever blocking the caller.
// Dropped records are counted; the next successful enqueue emits a
// drop-report record carrying the count.
func (e *engine) enqueue(r *Record, unreportedDrops uint64) {
	defer func() {
		if rec := recover(); rec != nil { // Catch panic on send to closed channel
			e.handleFailedEnqueue(unreportedDrops)
		}
	}()

	if e.state.ShutdownCalled.Load() || e.state.EngineDisabled.Load() {
		e.handleFailedEnqueue(unreportedDrops)
		return
	}

	ch := e.getActiveQueue()

	select {
	case ch <- queueItem{rec: r, unreportedDrops: unreportedDrops}:
		if unreportedDrops == 0 {
			droppedCount := e.state.DroppedRecords.Swap(0)
			if droppedCount > 0 {
				dropRecord := &Record{
					TimeStamp: time.Now(),
					Level:     LevelError,
					Origin:    e.getOrigin(),
					Payload:   []any{"records were dropped", "dropped_count", droppedCount},
				}
				// Count is restored on failure, no success check required
				e.enqueue(dropRecord, droppedCount)
			}
		}
	default:
		e.handleFailedEnqueue(unreportedDrops)
	}
}

// handleFailedEnqueue restores or increments the drop counter
func (e *engine) handleFailedEnqueue(unreportedDrops uint64) {
	amountToAdd := uint64(1)
	if unreportedDrops > 0 {
		amountToAdd = unreportedDrops
	}
	e.state.DroppedRecords.Add(amountToAdd)
}

// RotateNow requests rotation of the given path regardless of its size.
// The request is serialized through the writer queue so it cannot race
// against in-flight appends. Idempotent when the path has no open stream:
// the writer just opens a fresh file.
func (e *engine) RotateNow(path string) (err error) {
	if !e.state.Started.Load() {
		return fmtErrorf("engine not started")
	}
	if path == "" {
		return fmtErrorf("rotation path cannot be empty")
	}

	// Queue may close concurrently with the send
	defer func() {
		if rec := recover(); rec != nil {
			err = fmtErrorf("engine stopped during rotation request")
		}
	}()

	select {
	case e.getActiveQueue() <- queueItem{rotatePath: path}:
		return nil
	case <-time.After(rotateRequestTimeout):
		return fmtErrorf("failed to hand rotation request to writer")
	}
}

// processRecords is the single authoritative writer loop. All file
// mutations for every path happen here, one at a time, in arrival order.
func (e *engine) processRecords(ch <-chan queueItem) {
	e.state.ProcessorExited.Store(false)
	defer e.state.ProcessorExited.Store(true)

	timers := e.setupWriterTimers()
	defer e.closeWriterTimers(timers)

	for {
		select {
		case item, ok := <-ch:
			if !ok {
				// Queue closed: final sync, release all handles, exit
				e.syncStreams()
				e.closeStreams()
				return
			}
			if item.rotatePath != "" {
				e.rotateStream(item.rotatePath, true)
				continue
			}
			e.persistRecord(item.rec)

		case <-timers.flushTicker.C:
			e.syncStreams()

		case confirmChan := <-e.state.flushRequestChan:
			// Drain what is already queued so the confirmation covers
			// every record emitted before the flush call
			e.drainQueue(ch)
			e.syncStreams()
			close(confirmChan) // Signal completion back to the Flush caller

		case <-timers.idleChan:
			e.closeIdleStreams()

		case <-timers.heartbeatChan:
			e.writeHeartbeat()
		}
	}
}

// drainQueue processes whatever is already buffered without blocking
func (e *engine) drainQueue(ch <-chan queueItem) {
	for {
		select {
		case item, ok := <-ch:
			if !ok {
				return
			}
			if item.rotatePath != "" {
				e.rotateStream(item.rotatePath, true)
				continue
			}
			e.persistRecord(item.rec)
		default:
			return
		}
	}
}

// writerTimers holds the writer loop tickers
type writerTimers struct {
	flushTicker     *time.Ticker
	idleTicker      *time.Ticker
	heartbeatTicker *time.Ticker
	idleChan        <-chan time.Time
	heartbeatChan   <-chan time.Time
}

func (e *engine) setupWriterTimers() *writerTimers {
	cfg := e.getConfig()
	timers := &writerTimers{}

	flushInterval := cfg.FlushIntervalMs
	if flushInterval <= 0 {
		flushInterval = 100
	}
	timers.flushTicker = time.NewTicker(time.Duration(flushInterval) * time.Millisecond)

	if cfg.IdleCloseSec > 0 {
		timers.idleTicker = time.NewTicker(time.Duration(cfg.IdleCloseSec) * time.Second)
		timers.idleChan = timers.idleTicker.C
	}

	if cfg.HeartbeatIntervalS > 0 {
		timers.heartbeatTicker = time.NewTicker(time.Duration(cfg.HeartbeatIntervalS) * time.Second)
		timers.heartbeatChan = timers.heartbeatTicker.C
	}

	return timers
}

func (e *engine) closeWriterTimers(timers *writerTimers) {
	timers.flushTicker.Stop()
	if timers.idleTicker != nil {
		timers.idleTicker.Stop()
	}
	if timers.heartbeatTicker != nil {
		timers.heartbeatTicker.Stop()
	}
}

// writeHeartbeat persists a self-diagnostic record through the normal
// file pipeline
func (e *engine) writeHeartbeat() {
	sequence := e.state.HeartbeatSequence.Add(1)

	var uptimeHours float64
	if start, ok := e.state.StartTime.Load().(time.Time); ok && !start.IsZero() {
		uptimeHours = time.Since(start).Hours()
	}

	rec := &Record{
		TimeStamp: time.Now(),
		Level:     LevelProc,
		Origin:    e.getOrigin(),
		Scope:     "heartbeat",
		Payload: []any{
			"sequence", sequence,
			"uptime_hours", uptimeHours,
			"processed", e.state.TotalProcessed.Load(),
			"dropped", e.state.DroppedRecords.Load(),
			"rotations", e.state.TotalRotations.Load(),
		},
	}

	e.persistRecord(rec)
}
