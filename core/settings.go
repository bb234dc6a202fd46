package core

import (
	"fmt"
	"sync"
)

// Settings owns the live Setup. Writers take the lock, so a change lands
// between cycles and never during a PID step reading a Snapshot.
type Settings struct {
	mu    sync.RWMutex
	store *SetupStore
	setup Setup
}

// NewSettings starts from factory defaults. Call LoadOrInstallDefaults to
// pick up the persisted record.
func NewSettings(store *SetupStore) *Settings {
	return &Settings{store: store, setup: DefaultSetup()}
}

// Snapshot returns a copy of the live record.
func (s *Settings) Snapshot() Setup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setup
}

// LoadOrInstallDefaults loads the stored record, or installs and persists
// defaults when none is valid. installed reports the latter.
func (s *Settings) LoadOrInstallDefaults() (installed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	setup, ok, err := s.store.Load()
	if err != nil {
		return false, err
	}
	if ok {
		s.setup = setup
		return false, nil
	}
	def := DefaultSetup()
	if err := s.store.Save(def); err != nil {
		return true, fmt.Errorf("install defaults: %w", err)
	}
	s.setup = def
	return true, nil
}

// update applies fn to a copy, validates and persists it, then commits.
func (s *Settings) update(fn func(*Setup) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.setup
	if err := fn(&next); err != nil {
		return err
	}
	next.Validity = SetupValid
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.store.Save(next); err != nil {
		return err
	}
	s.setup = next
	return nil
}

func (s *Settings) SetGains(kp, ki, kd float64) error {
	return s.update(func(st *Setup) error {
		st.Kp, st.Ki, st.Kd = kp, ki, kd
		return nil
	})
}

func (s *Settings) SetRampRate(rate float64) error {
	return s.update(func(st *Setup) error {
		st.RampRate = rate
		return nil
	})
}

func (s *Settings) SetRampSetpoint(v float64) error {
	return s.update(func(st *Setup) error {
		st.RampSetpoint = v
		return nil
	})
}

func (s *Settings) SetTargetSetpoint(v float64) error {
	return s.update(func(st *Setup) error {
		st.TargetSetpoint = v
		return nil
	})
}

func (s *Settings) SetProportionalBand(pb float64) error {
	return s.update(func(st *Setup) error {
		st.ProportionalBand = pb
		return nil
	})
}

func (s *Settings) SetIdent(ident string) error {
	return s.update(func(st *Setup) error {
		st.Ident = ident
		return nil
	})
}

func (s *Settings) SetDirection(d Direction) error {
	return s.update(func(st *Setup) error {
		st.Direction = d
		return nil
	})
}

// ToggleDirection flips Forward and Reverse and returns the new sense.
func (s *Settings) ToggleDirection() (Direction, error) {
	var d Direction
	err := s.update(func(st *Setup) error {
		if st.Direction == Forward {
			st.Direction = Reverse
		} else {
			st.Direction = Forward
		}
		d = st.Direction
		return nil
	})
	return d, err
}

// ResetToDefaults installs and persists the factory record, seeding the
// measured value with mv.
func (s *Settings) ResetToDefaults(mv float64) error {
	return s.update(func(st *Setup) error {
		*st = DefaultSetup()
		st.MeasuredValue = mv
		return nil
	})
}

// PersistNow writes the live record as it stands.
func (s *Settings) PersistNow() error {
	return s.update(func(*Setup) error { return nil })
}

// NoteMeasuredValue caches mv without persisting it.
func (s *Settings) NoteMeasuredValue(mv float64) {
	s.mu.Lock()
	s.setup.MeasuredValue = mv
	s.mu.Unlock()
}

// Clear zeroes the in-memory record. The store is untouched; the loop
// refuses to run until a valid record is installed again.
func (s *Settings) Clear() {
	s.mu.Lock()
	s.setup = Setup{}
	s.mu.Unlock()
}

// Erase clears the in-memory record and erases the stored image. Every
// verify mismatch is reported in the returned error.
func (s *Settings) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setup = Setup{}
	return s.store.EraseAndVerify()
}
