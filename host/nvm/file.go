// Package nvm keeps the controller's non-volatile memory in a file.
package nvm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopid/core"
)

// File is an NVM image on disk. Every write replaces the file atomically,
// so a crash leaves either the old or the new image.
type File struct {
	mu   sync.RWMutex
	path string
	data []byte
}

var _ core.NVM = (*File)(nil)

// Open loads the image at path, creating an erased one of size bytes if it
// does not exist. A shorter image is extended with erased bytes; a longer
// one is rejected.
func Open(path string, size int) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("nvm: size %d", size)
	}
	f := &File{path: path, data: bytes.Repeat([]byte{core.ErasedByte}, size)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := f.flush(); err != nil {
			return nil, err
		}
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("nvm: %w", err)
	case len(data) > size:
		return nil, fmt.Errorf("nvm: %s holds %d bytes, configured for %d", path, len(data), size)
	}
	copy(f.data, data)
	if len(data) < size {
		if err := f.flush(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.data))
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(f.data)) {
		return 0, core.ErrNVMRange
	}
	return copy(p, f.data[off:]), nil
}

// WriteAt updates the range and persists the whole image. On failure the
// in-memory image is left unchanged.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(f.data)) {
		return 0, core.ErrNVMRange
	}
	old := append([]byte(nil), f.data[off:off+int64(len(p))]...)
	n := copy(f.data[off:], p)
	if err := f.flush(); err != nil {
		copy(f.data[off:], old)
		return 0, err
	}
	return n, nil
}

func (f *File) flush() error {
	dir, base := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("nvm: %w", err)
	}
	name := tmp.Name()
	_, err = tmp.Write(f.data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, f.path)
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("nvm: write %s: %w", f.path, err)
	}
	return nil
}
