// FILE: lixenwraith/funnel/storage.go
package funnel

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// fileStream owns the single live append handle for one resolved path.
// All fields are owned by the writer goroutine; no other component opens
// the file directly.
type fileStream struct {
	path        string
	file        *os.File
	size        int64
	lastWrite   time.Time
	rotateFails int
	degraded    bool
}

// ArchivedFile describes the displaced file handed to the archive hook
type ArchivedFile struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// ArchiveHook is invoked synchronously before the displaced file is
// renamed away. The hook may compress, move or delete it. Errors and
// panics are reported but never block rotation from completing.
type ArchiveHook func(f ArchivedFile) error

// persistRecord resolves, formats and appends one record. Failures are
// reported through the side channel and the record is dropped; nothing
// propagates to the emitting call site.
func (e *engine) persistRecord(r *Record) {
	if r == nil {
		return
	}
	cfg := e.getConfig()

	path, err := e.resolvePath(cfg, r)
	if err != nil {
		e.report(ErrResolutionFailed, "record dropped: %v", err)
		e.state.DroppedRecords.Add(1)
		return
	}

	stream, err := e.getStream(path)
	if err != nil {
		e.report(ErrTransportUnavailable, "failed to open '%s': %v", path, err)
		e.state.DroppedRecords.Add(1)
		return
	}

	e.fileSer.setTimestampFormat(cfg.TimestampFormat)
	data := e.fileSer.serialize(cfg.fileSpec(), r)

	n, err := stream.file.Write(data)
	if err != nil {
		e.report(ErrTransportUnavailable, "write to '%s' failed: %v", path, err)
		e.state.DroppedRecords.Add(1)
		// Drop the handle so the next append reopens from scratch
		_ = stream.file.Close()
		delete(e.streams, path)
		return
	}

	stream.size += int64(n)
	stream.lastWrite = time.Now()
	e.state.TotalProcessed.Add(1)

	if cfg.MaxSizeBytes > 0 && stream.size >= cfg.MaxSizeBytes {
		e.rotateStream(path, false)
	}
}

// getStream returns the live stream for a path, opening it lazily.
// The current size is seeded from a stat of any existing file, which is
// the documented limitation: a file already over threshold at open time
// is not rotated until the next size check after further writes.
func (e *engine) getStream(path string) (*fileStream, error) {
	if stream, ok := e.streams[path]; ok && stream.file != nil {
		return stream, nil
	}

	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	stream := &fileStream{
		path:      path,
		file:      file,
		lastWrite: time.Now(),
	}
	if fi, errStat := file.Stat(); errStat == nil {
		stream.size = fi.Size()
	}

	e.streams[path] = stream
	return stream, nil
}

// openAppend opens the append handle, retrying once after creating
// parent directories
func openAppend(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		return file, nil
	}

	if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
		return nil, fmtErrorf("failed to create parent directory for '%s': %w", path, mkErr)
	}

	file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmtErrorf("failed to open log file '%s': %w", path, err)
	}
	return file, nil
}

// oldPathFor returns the fixed sibling name the displaced file is
// renamed to: app.log -> app.old.log
func oldPathFor(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + "." + oldFileInfix
	}
	return strings.TrimSuffix(path, ext) + "." + oldFileInfix + ext
}

// rotateStream runs the rotation sequence for one path:
// close -> archive hook -> rename to the fixed sibling -> fresh file.
// Size-triggered rotation is skipped while the stream is degraded;
// a manual trigger still attempts and clears the degraded state on
// success.
func (e *engine) rotateStream(path string, manual bool) {
	cfg := e.getConfig()
	stream, ok := e.streams[path]

	if !ok || stream.file == nil {
		if !manual {
			return
		}
		// Manual rotation with no open handle just opens fresh
		fresh, err := openAppend(path)
		if err != nil {
			e.report(ErrRotationFailed, "failed to open '%s': %v", path, err)
			return
		}
		stream = &fileStream{path: path, file: fresh, lastWrite: time.Now()}
		if fi, errStat := fresh.Stat(); errStat == nil {
			stream.size = fi.Size()
		}
		e.streams[path] = stream
		return
	}

	if stream.degraded && !manual {
		return
	}

	// Nothing written since the last rotation; keep the handle, do not
	// clobber the displaced file with an empty one
	if fi, err := os.Stat(path); err == nil && fi.Size() == 0 {
		return
	}

	// Close the active handle before displacing the file
	if err := stream.file.Close(); err != nil {
		e.internalLog("failed to close '%s' before rotation: %v\n", path, err)
	}
	stream.file = nil

	// Archive hook runs before the rename; it may already remove the file
	if cfg.ArchiveHook != nil {
		info := ArchivedFile{Path: path, Size: stream.size}
		if fi, err := os.Stat(path); err == nil {
			info.Size = fi.Size()
			info.LastModified = fi.ModTime()
		}
		if err := invokeArchiveHook(cfg.ArchiveHook, info); err != nil {
			e.report(ErrArchiveHookFailed, "hook for '%s': %v", path, err)
		}
	}

	// Displace the old file unless the hook already removed it
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, oldPathFor(path)); err != nil {
			e.rotationFailed(stream, path, err)
			return
		}
	}

	fresh, err := openAppend(path)
	if err != nil {
		e.rotationFailed(stream, path, err)
		return
	}

	stream.file = fresh
	stream.size = 0
	stream.lastWrite = time.Now()
	stream.rotateFails = 0
	stream.degraded = false
	e.streams[path] = stream
	e.state.TotalRotations.Add(1)
}

// rotationFailed counts consecutive failures and degrades the stream
// after the threshold: rotation attempts stop and writes keep appending
// to the oversized file rather than losing log continuity.
func (e *engine) rotationFailed(stream *fileStream, path string, cause error) {
	stream.rotateFails++
	e.report(ErrRotationFailed, "'%s' (attempt %d): %v", path, stream.rotateFails, cause)

	if stream.rotateFails >= degradedFailureThreshold && !stream.degraded {
		stream.degraded = true
		e.state.TotalDegraded.Add(1)
		e.report(ErrRotationFailed, "'%s' degraded to unbounded append", path)
	}

	// Fail-open: reopen the original file so appends continue
	file, err := openAppend(path)
	if err != nil {
		e.report(ErrTransportUnavailable, "failed to reopen '%s' after rotation failure: %v", path, err)
		delete(e.streams, path)
		return
	}
	stream.file = file
	if fi, errStat := file.Stat(); errStat == nil {
		stream.size = fi.Size()
	}
	e.streams[path] = stream
}

// invokeArchiveHook calls the hook with panic containment
func invokeArchiveHook(hook ArchiveHook, info ArchivedFile) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmtErrorf("archive hook panicked: %v", rec)
		}
	}()
	return hook(info)
}

// syncStreams flushes every open handle to disk
func (e *engine) syncStreams() {
	for path, stream := range e.streams {
		if stream.file == nil {
			continue
		}
		if err := stream.file.Sync(); err != nil {
			e.internalLog("failed to sync '%s': %v\n", path, err)
		}
	}
}

// closeStreams releases every handle; called when the writer exits
func (e *engine) closeStreams() {
	for path, stream := range e.streams {
		if stream.file != nil {
			_ = stream.file.Close()
		}
		delete(e.streams, path)
	}
}

// closeIdleStreams releases handles that saw no writes within the idle window
func (e *engine) closeIdleStreams() {
	cfg := e.getConfig()
	if cfg.IdleCloseSec <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(cfg.IdleCloseSec) * time.Second)
	for path, stream := range e.streams {
		if stream.file == nil || stream.lastWrite.After(cutoff) {
			continue
		}
		_ = stream.file.Sync()
		_ = stream.file.Close()
		delete(e.streams, path)
	}
}

// GzipArchiver is a stock archive hook that compresses the displaced
// file to <path>.gz and removes the original
func GzipArchiver(f ArchivedFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmtErrorf("archive: failed to open '%s': %w", f.Path, err)
	}
	defer src.Close()

	dst, err := os.Create(f.Path + ".gz")
	if err != nil {
		return fmtErrorf("archive: failed to create '%s.gz': %w", f.Path, err)
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		return fmtErrorf("archive: failed to compress '%s': %w", f.Path, err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return fmtErrorf("archive: failed to finalize '%s.gz': %w", f.Path, err)
	}
	if err := dst.Close(); err != nil {
		return fmtErrorf("archive: failed to close '%s.gz': %w", f.Path, err)
	}

	_ = src.Close()
	return os.Remove(f.Path)
}
