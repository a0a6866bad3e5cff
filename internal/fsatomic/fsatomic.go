// Package fsatomic provides atomic single-file writes shared by RunStore,
// StateStore and MRPAssembler: write to a uniquely named temp file in the
// same directory, fsync, then rename into place. Either the old or the new
// full document is ever visible to readers; a crash mid-write never leaves
// a partially-written target file.
package fsatomic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

var tmpCounter atomic.Uint64

// TempSuffix returns a unique suffix for a temp file name, combining the
// process-wide monotonic counter with the caller-supplied nonce so two
// concurrent writers to the same path never collide.
func TempSuffix(nonce int64) string {
	return fmt.Sprintf("%d-%d", nonce, tmpCounter.Add(1))
}

// WriteFile atomically writes data to path, creating parent directories as
// needed. On any error the temp file is removed and the target is untouched.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteFunc(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteFunc atomically writes the content produced by writeFunc to path.
func WriteFunc(path string, perm os.FileMode, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp-%s", TempSuffix(int64(os.Getpid()))))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup on error path
		}
	}()

	if err := writeFunc(f); err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}
