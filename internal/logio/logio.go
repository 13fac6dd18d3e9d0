// Package logio implements the append/compaction mechanics shared by the
// log store and the inbox store: both are, at the byte level, "a single
// append-only JSONL file guarded by an advisory lock," and this package
// is where that shared discipline lives so it's implemented once.
package logio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dogcats/dcat/internal/lockfile"
)

// ReadLines reads path and splits it into lines, preserving blank lines
// and omitting only the final line-ending split artifact. A missing file
// yields a nil, nil result.
func ReadLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the caller's own database file
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("logio: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	lines := bytes.Split(data, []byte("\n"))
	// bytes.Split on a file ending in "\n" produces a trailing empty
	// element; on a torn file with no trailing newline it does not. Drop
	// the trailing empty element only in the former case so a genuinely
	// blank last line (rare, tolerated) isn't lost.
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 && data[len(data)-1] == '\n' {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// Append acquires lock, heals a missing trailing newline left by a torn
// prior write, writes payload, flushes and fsyncs the file descriptor,
// then releases the lock. payload should already end in "\n".
func Append(path string, lock *lockfile.Lock, payload []byte) error {
	unlock, err := lock.Acquire()
	if err != nil {
		return err
	}
	defer unlock()

	needsHealingNewline := false
	if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 {
		f, openErr := os.Open(path) // #nosec G304
		if openErr == nil {
			buf := make([]byte, 1)
			if _, err := f.ReadAt(buf, info.Size()-1); err == nil && buf[0] != '\n' {
				needsHealingNewline = true
			}
			f.Close()
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304
	if err != nil {
		return fmt.Errorf("logio: open %s: %w", path, err)
	}
	defer f.Close()

	if needsHealingNewline {
		if _, err := f.Write([]byte("\n")); err != nil {
			return fmt.Errorf("logio: heal %s: %w", path, err)
		}
	}
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("logio: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("logio: fsync %s: %w", path, err)
	}
	return nil
}

// Compact rewrites path atomically: it acquires lock, opens a temp file
// in the same directory, calls write with that file so the caller can
// stream the canonical current-state records, flushes and fsyncs the
// temp file and its containing directory, then renames it over path.
// On any error the temp file is removed and path is left untouched.
func Compact(path string, lock *lockfile.Lock, write func(*os.File) error) error {
	unlock, err := lock.Acquire()
	if err != nil {
		return err
	}
	defer unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("logio: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if err := write(tmp); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("logio: write temp %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("logio: fsync temp %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("logio: close temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("logio: rename %s -> %s: %w", tmpPath, path, err)
	}
	fsyncDir(dir)
	return nil
}

// AtomicWriteFile writes data to path via a temp-file-and-rename in the
// same directory, fsyncing both the temp file and the containing
// directory before returning. Unlike Append/Compact it takes no lock:
// callers that already have exclusive use of path (such as the merge
// driver, which git invokes against its own private merge workspace)
// don't need one.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("logio: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("logio: write temp %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("logio: fsync temp %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("logio: close temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("logio: rename %s -> %s: %w", tmpPath, path, err)
	}
	fsyncDir(dir)
	return nil
}
