//go:build tinygo && rp2040

package main

import (
	"machine"

	"gopid/core"
)

// flashNVM keeps the NVM image in the first erase block of the flash data
// area. Reads come from a RAM mirror; a write erases the block and
// programs the whole mirror.
type flashNVM struct {
	mirror []byte
}

var _ core.NVM = (*flashNVM)(nil)

func newFlashNVM(size int) (*flashNVM, error) {
	wbs := int(machine.Flash.WriteBlockSize())
	if rem := size % wbs; rem != 0 {
		size += wbs - rem
	}
	f := &flashNVM{mirror: make([]byte, size)}
	if _, err := machine.Flash.ReadAt(f.mirror, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *flashNVM) Size() int64 {
	return int64(len(f.mirror))
}

func (f *flashNVM) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(f.mirror)) {
		return 0, core.ErrNVMRange
	}
	return copy(p, f.mirror[off:]), nil
}

func (f *flashNVM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(f.mirror)) {
		return 0, core.ErrNVMRange
	}
	n := copy(f.mirror[off:], p)
	if err := machine.Flash.EraseBlocks(0, 1); err != nil {
		return 0, err
	}
	if _, err := machine.Flash.WriteAt(f.mirror, 0); err != nil {
		return 0, err
	}
	return n, nil
}
