// Package atomicfile replaces single files without ever exposing partial content.
//
// Content is written to a temporary file created next to the target, flushed to
// stable storage and renamed over the target. Readers observe either the old
// file or the complete new file.
package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFunc streams the new file content into w.
type WriteFunc func(w io.Writer) error

// ErrRename marks a failure of the final rename. The temporary file is complete
// at that point, so callers treat it as corruption of this write only.
var ErrRename = errors.New("atomic rename failed")

// Options tune a single Write call.
type Options struct {
	// Perm is applied to the new file. Defaults to 0o640.
	Perm os.FileMode
	// KeepTempOnError leaves the temporary file behind when the write fails,
	// for callers that run their own reaper.
	KeepTempOnError bool
}

// Option configures Write.
type Option func(*Options)

// WithPerm sets the permission bits of the replaced file.
func WithPerm(perm os.FileMode) Option {
	return func(o *Options) {
		o.Perm = perm
	}
}

// WithKeepTempOnError disables removal of the temporary file on failure.
func WithKeepTempOnError() Option {
	return func(o *Options) {
		o.KeepTempOnError = true
	}
}

// Write atomically replaces target with the content produced by fn.
// The temporary file is named tempPrefix + random suffix in target's directory
// so that the rename never crosses a filesystem boundary.
func Write(target, tempPrefix string, fn WriteFunc, opts ...Option) error {
	options := Options{Perm: 0o640}
	for _, opt := range opts {
		opt(&options)
	}

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// Anything short of a completed rename, a panic in fn included, cleans up.
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if !options.KeepTempOnError {
			_ = os.Remove(tmpName)
		}
	}()

	if err := writeAndSync(tmp, fn); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, options.Perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("%w: %w", ErrRename, err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// WriteBytes atomically replaces target with data.
func WriteBytes(target, tempPrefix string, data []byte, opts ...Option) error {
	return Write(target, tempPrefix, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}, opts...)
}

func writeAndSync(f *os.File, fn WriteFunc) error {
	if err := fn(f); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	return nil
}

// syncDir persists the rename itself. Some platforms refuse to fsync a
// directory; the rename already happened, so that is not reported.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
