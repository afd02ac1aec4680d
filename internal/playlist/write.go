package playlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PersistenceError reports that a playlist could not be read or written. It is fatal for a run.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("playlist %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// WriteFile writes text to path via a temp file and rename so readers never see a partial playlist.
func WriteFile(path, text string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Path: path, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".playlist-*.m3u8.tmp")
	if err != nil {
		return &PersistenceError{Path: path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.WriteString(text)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return &PersistenceError{Path: path, Op: "write", Err: writeErr}
		}
		return &PersistenceError{Path: path, Op: "close", Err: closeErr}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// ReadFile parses the playlist at path. A missing file is an empty document.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, &PersistenceError{Path: path, Op: "read", Err: err}
	}
	return Parse(string(data)), nil
}
