// FILE: lixenwraith/funnel/storage_test.go
package funnel

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errCollector gathers reporter callbacks across goroutines
type errCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errCollector) reporter() ErrorReporter {
	return func(err error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.errs = append(c.errs, err)
	}
}

func (c *errCollector) matching(target error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, err := range c.errs {
		if err != nil && strings.Contains(err.Error(), target.Error()) {
			n++
		}
	}
	return n
}

// createRotationLogger builds a started engine with a small size threshold
func createRotationLogger(t *testing.T, mutate func(cfg *Config)) (*Logger, string) {
	tmpDir := t.TempDir()
	logger := NewLogger()

	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.Directory = tmpDir
	cfg.MaxSizeBytes = 256
	cfg.FlushIntervalMs = 10
	if mutate != nil {
		mutate(cfg)
	}

	require.NoError(t, logger.ApplyConfig(cfg))
	require.NoError(t, logger.Start())
	return logger, tmpDir
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestOldPathFor verifies the displaced file naming
func TestOldPathFor(t *testing.T) {
	assert.Equal(t, "/var/log/app.old.log", oldPathFor("/var/log/app.log"))
	assert.Equal(t, "/var/log/app.old", oldPathFor("/var/log/app"))
	assert.Equal(t, "worker.old.log", oldPathFor("worker.log"))
}

// TestSizeTriggeredRotation writes past the threshold and expects the
// active file to be displaced to the fixed sibling name
func TestSizeTriggeredRotation(t *testing.T) {
	logger, tmpDir := createRotationLogger(t, nil)
	defer logger.Shutdown()

	padding := strings.Repeat("x", 64)
	for i := 0; i < 20; i++ {
		logger.Info(padding, "seq", i)
	}

	oldPath := filepath.Join(tmpDir, "main.old.log")
	ok := waitFor(t, 2*time.Second, func() bool {
		fi, err := os.Stat(oldPath)
		return err == nil && fi.Size() > 0
	})
	require.True(t, ok, "rotation did not produce the displaced file")

	assert.GreaterOrEqual(t, logger.Stats().Rotations, uint64(1))

	// The active file was reopened fresh and stays under the threshold
	// plus one record
	require.NoError(t, logger.Flush(time.Second))
	fi, err := os.Stat(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Less(t, fi.Size(), int64(512))
}

// TestRotateNow verifies the manual trigger and its idempotence: a second
// call with no intervening writes keeps the displaced file intact
func TestRotateNow(t *testing.T) {
	logger, tmpDir := createRotationLogger(t, func(cfg *Config) {
		cfg.MaxSizeBytes = 0 // Manual only
	})
	defer logger.Shutdown()

	logger.Info("before rotation")
	require.NoError(t, logger.Flush(time.Second))

	activePath := filepath.Join(tmpDir, "main.log")
	oldPath := filepath.Join(tmpDir, "main.old.log")

	require.NoError(t, logger.RotateNow(activePath))
	ok := waitFor(t, time.Second, func() bool {
		fi, err := os.Stat(oldPath)
		return err == nil && fi.Size() > 0
	})
	require.True(t, ok)

	displaced, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Contains(t, string(displaced), "before rotation")

	// Second trigger is a no-op beyond keeping the handle open
	require.NoError(t, logger.RotateNow(activePath))
	require.NoError(t, logger.Flush(time.Second))

	again, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Equal(t, displaced, again, "second rotation clobbered the displaced file")

	fi, err := os.Stat(activePath)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	// Appends continue on the fresh file
	logger.Info("after rotation")
	require.NoError(t, logger.Flush(time.Second))
	content, err := os.ReadFile(activePath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "after rotation")
}

// TestRotateNowWithoutStream opens a fresh file when no handle exists
func TestRotateNowWithoutStream(t *testing.T) {
	logger, tmpDir := createRotationLogger(t, nil)
	defer logger.Shutdown()

	path := filepath.Join(tmpDir, "untouched.log")
	require.NoError(t, logger.RotateNow(path))

	ok := waitFor(t, time.Second, func() bool {
		_, err := os.Stat(path)
		return err == nil
	})
	assert.True(t, ok)
}

// TestRotateNowErrors covers the refusal cases
func TestRotateNowErrors(t *testing.T) {
	logger, tmpDir := createRotationLogger(t, nil)

	assert.Error(t, logger.RotateNow(""))

	require.NoError(t, logger.Stop())
	assert.Error(t, logger.RotateNow(filepath.Join(tmpDir, "main.log")))

	logger.Shutdown()
}

// TestArchiveHook verifies the hook runs before the rename, while the
// file is still at its original path
func TestArchiveHook(t *testing.T) {
	var mu sync.Mutex
	var archived []ArchivedFile
	sawOriginal := false

	logger, tmpDir := createRotationLogger(t, func(cfg *Config) {
		cfg.MaxSizeBytes = 0
		cfg.ArchiveHook = func(f ArchivedFile) error {
			mu.Lock()
			defer mu.Unlock()
			archived = append(archived, f)
			if _, err := os.Stat(f.Path); err == nil {
				sawOriginal = true
			}
			return nil
		}
	})
	defer logger.Shutdown()

	logger.Info("to be archived")
	require.NoError(t, logger.Flush(time.Second))

	activePath := filepath.Join(tmpDir, "main.log")
	require.NoError(t, logger.RotateNow(activePath))
	require.NoError(t, logger.Flush(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, archived, 1)
	assert.Equal(t, activePath, archived[0].Path)
	assert.Greater(t, archived[0].Size, int64(0))
	assert.True(t, sawOriginal, "hook ran after the file was displaced")
}

// TestArchiveHookDeletesFile: a hook that reclaims the file itself still
// leaves a fresh active file and no displaced sibling
func TestArchiveHookDeletesFile(t *testing.T) {
	logger, tmpDir := createRotationLogger(t, func(cfg *Config) {
		cfg.MaxSizeBytes = 0
		cfg.ArchiveHook = func(f ArchivedFile) error {
			return os.Remove(f.Path)
		}
	})
	defer logger.Shutdown()

	logger.Info("reclaimed by hook")
	require.NoError(t, logger.Flush(time.Second))

	activePath := filepath.Join(tmpDir, "main.log")
	require.NoError(t, logger.RotateNow(activePath))
	require.NoError(t, logger.Flush(time.Second))

	_, err := os.Stat(filepath.Join(tmpDir, "main.old.log"))
	assert.True(t, os.IsNotExist(err))

	fi, err := os.Stat(activePath)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	logger.Info("pipeline still healthy")
	require.NoError(t, logger.Flush(time.Second))
	content, err := os.ReadFile(activePath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "pipeline still healthy")
}

// TestArchiveHookPanic reports the failure but completes the rotation
func TestArchiveHookPanic(t *testing.T) {
	collector := &errCollector{}
	logger, tmpDir := createRotationLogger(t, func(cfg *Config) {
		cfg.MaxSizeBytes = 0
		cfg.ArchiveHook = func(f ArchivedFile) error {
			panic("hook bug")
		}
		cfg.ErrorReporter = collector.reporter()
	})
	defer logger.Shutdown()

	logger.Info("rotation survives hook panics")
	require.NoError(t, logger.Flush(time.Second))

	require.NoError(t, logger.RotateNow(filepath.Join(tmpDir, "main.log")))

	oldPath := filepath.Join(tmpDir, "main.old.log")
	ok := waitFor(t, time.Second, func() bool {
		_, err := os.Stat(oldPath)
		return err == nil
	})
	assert.True(t, ok, "rotation did not complete after hook panic")
	assert.GreaterOrEqual(t, collector.matching(ErrArchiveHookFailed), 1)
}

// TestDegradedState forces consecutive rotation failures and verifies the
// stream degrades to unbounded append, then recovers on a manual trigger
func TestDegradedState(t *testing.T) {
	collector := &errCollector{}
	logger, tmpDir := createRotationLogger(t, func(cfg *Config) {
		cfg.MaxSizeBytes = 128
		cfg.ErrorReporter = collector.reporter()
	})
	defer logger.Shutdown()

	activePath := filepath.Join(tmpDir, "main.log")
	oldPath := filepath.Join(tmpDir, "main.old.log")

	// A directory at the displaced name makes every rename fail
	require.NoError(t, os.Mkdir(oldPath, 0755))

	padding := strings.Repeat("x", 64)
	for i := 0; i < 10; i++ {
		logger.Info(padding, "seq", i)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		return logger.Stats().Degraded >= 1
	})
	require.True(t, ok, "stream did not degrade after repeated rotation failures")
	assert.GreaterOrEqual(t, collector.matching(ErrRotationFailed), degradedFailureThreshold)

	// Degraded streams keep appending past the threshold without losing records
	for i := 0; i < 10; i++ {
		logger.Info(padding, "post", i)
	}
	require.NoError(t, logger.Flush(time.Second))

	fi, err := os.Stat(activePath)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(128))
	assert.Zero(t, logger.Stats().Rotations)

	// Manual trigger still attempts; success clears the degraded state
	require.NoError(t, os.Remove(oldPath))
	require.NoError(t, logger.RotateNow(activePath))

	ok = waitFor(t, 2*time.Second, func() bool {
		return logger.Stats().Rotations >= 1
	})
	require.True(t, ok, "manual rotation did not recover the degraded stream")

	displaced, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Contains(t, string(displaced), "post")
}

// TestStatSeededSize verifies a pre-existing oversized file rotates on the
// first append after open, not at open time
func TestStatSeededSize(t *testing.T) {
	tmpDir := t.TempDir()
	activePath := filepath.Join(tmpDir, "main.log")
	require.NoError(t, os.WriteFile(activePath, []byte(strings.Repeat("old data\n", 100)), 0644))

	logger := NewLogger()
	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.Directory = tmpDir
	cfg.MaxSizeBytes = 256
	cfg.FlushIntervalMs = 10
	require.NoError(t, logger.ApplyConfig(cfg))
	require.NoError(t, logger.Start())
	defer logger.Shutdown()

	logger.Info("first append")

	oldPath := filepath.Join(tmpDir, "main.old.log")
	ok := waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(oldPath)
		return err == nil
	})
	require.True(t, ok)

	displaced, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Contains(t, string(displaced), "old data")
	assert.Contains(t, string(displaced), "first append")
}

// TestWriteAfterHandleLoss verifies the stream reopens after its handle
// is dropped mid-run
func TestWriteAfterHandleLoss(t *testing.T) {
	logger, tmpDir := createTestLogger(t)
	defer logger.Shutdown()

	logger.Info("first")
	require.NoError(t, logger.Flush(time.Second))

	// Remove the file out from under the open handle; appends keep going
	// to the orphaned inode, and rotation of the now-missing path opens fresh
	activePath := filepath.Join(tmpDir, "main.log")
	require.NoError(t, os.Remove(activePath))
	require.NoError(t, logger.RotateNow(activePath))

	logger.Info("second")
	require.NoError(t, logger.Flush(time.Second))

	content, err := os.ReadFile(activePath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "second")
}

// TestGzipArchiver compresses the displaced file and removes the original
func TestGzipArchiver(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "app.old.log")
	payload := []byte("compress me\nand me\n")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	err := GzipArchiver(ArchivedFile{Path: path, Size: int64(len(payload))})
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	gz, err := os.Open(path + ".gz")
	require.NoError(t, err)
	defer gz.Close()

	zr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

// TestGzipArchiverMissingFile returns an error without side effects
func TestGzipArchiverMissingFile(t *testing.T) {
	err := GzipArchiver(ArchivedFile{Path: filepath.Join(t.TempDir(), "gone.log")})
	assert.Error(t, err)
}

// TestIdleStreamClose releases handles for paths with no recent writes
func TestIdleStreamClose(t *testing.T) {
	logger, tmpDir := createRotationLogger(t, func(cfg *Config) {
		cfg.MaxSizeBytes = 0
		cfg.IdleCloseSec = 1
	})
	defer logger.Shutdown()

	logger.Info("open a stream")
	require.NoError(t, logger.Flush(time.Second))

	// Wait past the idle window; the writer releases the handle and
	// subsequent appends reopen it transparently
	time.Sleep(2500 * time.Millisecond)
	logger.Info("after idle window")
	require.NoError(t, logger.Flush(time.Second))

	content, err := os.ReadFile(filepath.Join(tmpDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "after idle window")
}
