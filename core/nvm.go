// Non-volatile storage for the Setup record.
package core

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// ErasedByte is the pattern left by an erase.
const ErasedByte = 0xFF

// NVM is a byte-addressable persistent store such as data EEPROM.
// WriteAt must not leave a partially written range visible to ReadAt.
type NVM interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// ErrNVMRange reports an access outside the store.
var ErrNVMRange = errors.New("nvm access out of range")

// MemoryNVM is an NVM held in RAM. It starts erased.
type MemoryNVM struct {
	mu   sync.RWMutex
	data []byte

	// FailWrite, when set, is returned by the next WriteAt.
	FailWrite error
	// Stuck forces bytes at the given offsets to a fixed value on write.
	Stuck map[int64]byte
}

// NewMemoryNVM creates an erased store of size bytes.
func NewMemoryNVM(size int) *MemoryNVM {
	m := &MemoryNVM{data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = ErasedByte
	}
	return m
}

func (m *MemoryNVM) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

func (m *MemoryNVM) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrNVMRange
	}
	return copy(p, m.data[off:]), nil
}

func (m *MemoryNVM) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrite; err != nil {
		m.FailWrite = nil
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrNVMRange
	}
	n := copy(m.data[off:], p)
	for addr, v := range m.Stuck {
		if addr >= off && addr < off+int64(n) {
			m.data[addr] = v
		}
	}
	return n, nil
}

// SetupStore persists a Setup image at a fixed offset.
type SetupStore struct {
	nvm  NVM
	base int64

	// Diag receives integrity events. May be nil.
	Diag *Diagnostics
}

// NewSetupStore creates a store for the image at base.
func NewSetupStore(nvm NVM, base int64) (*SetupStore, error) {
	if base < 0 || base+SetupImageSize > nvm.Size() {
		return nil, fmt.Errorf("%w: image at %d needs %d bytes, store has %d", ErrNVMRange, base, SetupImageSize, nvm.Size())
	}
	return &SetupStore{nvm: nvm, base: base}, nil
}

// Size returns the capacity of the underlying store.
func (s *SetupStore) Size() int64 {
	return s.nvm.Size()
}

// Present checks the sentinel byte only.
func (s *SetupStore) Present() (bool, error) {
	var b [1]byte
	if _, err := s.nvm.ReadAt(b[:], s.base+setupValidOffset); err != nil {
		return false, fmt.Errorf("nvm read: %w", err)
	}
	return b[0] == SetupValid, nil
}

// Load reads the record. ok is false for a blank, corrupt or invalid image;
// err is reserved for storage failures.
func (s *SetupStore) Load() (setup Setup, ok bool, err error) {
	buf := make([]byte, SetupImageSize)
	if _, err := s.nvm.ReadAt(buf, s.base); err != nil {
		return Setup{}, false, fmt.Errorf("nvm read: %w", err)
	}
	if err := setup.UnmarshalBinary(buf); err != nil {
		if !errors.Is(err, ErrSetupAbsent) && s.Diag != nil {
			s.Diag.Record(EvtSetupInvalid, 0, uint32(buf[0]), uint32(buf[setupValidOffset]))
		}
		return Setup{}, false, nil
	}
	if err := setup.Validate(); err != nil {
		if s.Diag != nil {
			s.Diag.Record(EvtSetupInvalid, 1, 0, 0)
		}
		return Setup{}, false, nil
	}
	return setup, true, nil
}

// Save writes the whole image in a single call.
func (s *SetupStore) Save(setup Setup) error {
	buf, err := setup.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.nvm.WriteAt(buf, s.base); err != nil {
		return fmt.Errorf("nvm write: %w", err)
	}
	return nil
}

// EraseAndVerify fills the image region with ErasedByte and reads it back.
// Every mismatched byte is reported; none aborts the check.
func (s *SetupStore) EraseAndVerify() error {
	blank := make([]byte, SetupImageSize)
	for i := range blank {
		blank[i] = ErasedByte
	}

	var errs error
	if _, err := s.nvm.WriteAt(blank, s.base); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("nvm erase: %w", err))
	}

	got := make([]byte, SetupImageSize)
	if _, err := s.nvm.ReadAt(got, s.base); err != nil {
		return multierr.Append(errs, fmt.Errorf("nvm verify read: %w", err))
	}
	for i, b := range got {
		if b == ErasedByte {
			continue
		}
		addr := s.base + int64(i)
		if s.Diag != nil {
			s.Diag.Record(EvtNVMMismatch, 0, uint32(addr), uint32(b))
		}
		errs = multierr.Append(errs, fmt.Errorf("nvm 0x%04X: read 0x%02X want 0x%02X", addr, b, ErasedByte))
	}
	return errs
}
