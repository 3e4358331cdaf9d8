// FILE: lixenwraith/funnel/writer_test.go
package funnel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStartStop verifies the writer can be stopped and restarted
func TestStartStop(t *testing.T) {
	logger, tmpDir := createTestLogger(t)

	logger.Info("first run")
	require.NoError(t, logger.Flush(time.Second))

	require.NoError(t, logger.Stop())
	assert.True(t, logger.state.ProcessorExited.Load())

	// Emissions while stopped are dropped, not queued
	logger.Info("while stopped")

	require.NoError(t, logger.Start())
	logger.Info("second run")
	require.NoError(t, logger.Flush(time.Second))

	content, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "first run")
	assert.Contains(t, string(content), "second run")
	assert.NotContains(t, string(content), "while stopped")

	logger.Shutdown()
}

// TestStartWithoutConfig refuses to start an uninitialized engine
func TestStartWithoutConfig(t *testing.T) {
	logger := NewLogger()
	assert.Error(t, logger.Start())
}

// TestStartIdempotent allows repeated Start calls while running
func TestStartIdempotent(t *testing.T) {
	logger, _ := createTestLogger(t)
	defer logger.Shutdown()

	assert.NoError(t, logger.Start())
	assert.NoError(t, logger.Start())
}

// TestStopIdempotent allows repeated Stop calls
func TestStopIdempotent(t *testing.T) {
	logger, _ := createTestLogger(t)
	defer logger.Shutdown()

	assert.NoError(t, logger.Stop())
	assert.NoError(t, logger.Stop())
}

// TestShutdown verifies records emitted before shutdown reach disk
func TestShutdown(t *testing.T) {
	logger, tmpDir := createTestLogger(t)

	logger.Info("flushed on shutdown")
	require.NoError(t, logger.Shutdown(time.Second))

	content, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "flushed on shutdown")

	// Emission after shutdown is a no-op
	logger.Info("after shutdown")
	again, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(again), "after shutdown")

	// Second call is a no-op
	assert.NoError(t, logger.Shutdown())
}

// TestFlushErrors covers flush refusal cases
func TestFlushErrors(t *testing.T) {
	logger := NewLogger()
	assert.Error(t, logger.Flush(time.Second))

	started, _ := createTestLogger(t)
	require.NoError(t, started.Stop())
	assert.Error(t, started.Flush(time.Second))
	started.Shutdown()
}

// TestDropAccounting verifies dropped records are counted and surfaced as
// a synthetic report once the queue accepts records again
func TestDropAccounting(t *testing.T) {
	logger, tmpDir := createTestLogger(t)
	defer logger.Shutdown()

	// With the writer stopped the active queue is closed; every emission
	// lands in the drop counter
	require.NoError(t, logger.Stop())
	for i := 0; i < 5; i++ {
		logger.Info("dropped", i)
	}
	assert.Equal(t, uint64(5), logger.Stats().Dropped)

	// The first successful enqueue after recovery emits the drop report
	require.NoError(t, logger.Start())
	logger.Info("back up")
	require.NoError(t, logger.Flush(time.Second))

	content, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "back up")
	assert.Contains(t, string(content), "records were dropped")
	assert.Contains(t, string(content), "dropped_count 5")
}

// TestQueueOverflowDrops verifies a saturated queue drops rather than blocks
func TestQueueOverflowDrops(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger()

	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.Directory = tmpDir
	cfg.BufferSize = 1
	cfg.FlushIntervalMs = 10
	// A slow resolver keeps the writer busy so the queue saturates
	cfg.PathResolver = func(vars Variables, r *Record) (string, error) {
		time.Sleep(2 * time.Millisecond)
		return filepath.Join(tmpDir, "slow.log"), nil
	}
	require.NoError(t, logger.ApplyConfig(cfg))
	require.NoError(t, logger.Start())
	defer logger.Shutdown()

	start := time.Now()
	for i := 0; i < 500; i++ {
		logger.Info("burst", i)
	}
	elapsed := time.Since(start)

	// Emission never blocked on the writer
	assert.Less(t, elapsed, 500*time.Millisecond)

	ok := waitFor(t, 2*time.Second, func() bool {
		s := logger.Stats()
		return s.Dropped > 0 || s.Processed >= 500
	})
	require.True(t, ok)
	assert.Greater(t, logger.Stats().Dropped, uint64(0))
}

// TestStats verifies the counter snapshot
func TestStats(t *testing.T) {
	logger, _ := createTestLogger(t)
	defer logger.Shutdown()

	logger.Info("one")
	logger.Info("two")
	require.NoError(t, logger.Flush(time.Second))

	ok := waitFor(t, time.Second, func() bool {
		return logger.Stats().Processed >= 2
	})
	assert.True(t, ok)

	s := logger.Stats()
	assert.Zero(t, s.Rotations)
	assert.Zero(t, s.Degraded)
	assert.Greater(t, s.Uptime, time.Duration(0))
}

// TestHeartbeat verifies the periodic self-diagnostic record shape by
// invoking the writer path directly on a stopped engine
func TestHeartbeat(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger()

	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.Directory = tmpDir
	require.NoError(t, logger.ApplyConfig(cfg))

	// The writer goroutine is not running; no concurrent stream access
	logger.writeHeartbeat()
	logger.writeHeartbeat()
	logger.closeStreams()

	content, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "PROC")
	assert.Contains(t, string(content), "(heartbeat)")
	assert.Contains(t, string(content), "sequence 1")
	assert.Contains(t, string(content), "sequence 2")
	assert.Contains(t, string(content), "uptime_hours")
}

// TestHeartbeatTimer verifies the interval timer drives heartbeats
func TestHeartbeatTimer(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger()

	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.Directory = tmpDir
	cfg.FlushIntervalMs = 10
	cfg.HeartbeatIntervalS = 1
	require.NoError(t, logger.ApplyConfig(cfg))
	require.NoError(t, logger.Start())
	defer logger.Shutdown()

	ok := waitFor(t, 3*time.Second, func() bool {
		data, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
		return err == nil && strings.Contains(string(data), "(heartbeat)")
	})
	assert.True(t, ok)
}

// TestHeartbeatPassesGates verifies heartbeat records bypass the file gate
func TestHeartbeatPassesGates(t *testing.T) {
	assert.True(t, shouldEmit(LevelProc, LevelError))
	assert.True(t, shouldEmit(LevelProc, LevelSilly))
}

// TestBufferSizeChangeRestartsWriter verifies reconfiguration mid-run
func TestBufferSizeChangeRestartsWriter(t *testing.T) {
	logger, tmpDir := createTestLogger(t)
	defer logger.Shutdown()

	logger.Info("before resize")
	require.NoError(t, logger.Flush(time.Second))

	require.NoError(t, logger.ApplyConfigString("buffer_size=2048"))
	assert.True(t, logger.state.Started.Load())

	logger.Info("after resize")
	require.NoError(t, logger.Flush(time.Second))

	content, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "before resize")
	assert.Contains(t, string(content), "after resize")
}
