package core

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettings(t *testing.T) (*Settings, *SetupStore, *MemoryNVM) {
	t.Helper()
	store, nvm := newTestStore(t, 256, 0)
	return NewSettings(store), store, nvm
}

func TestLoadOrInstallDefaults(t *testing.T) {
	settings, store, _ := newTestSettings(t)

	installed, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)
	assert.True(t, installed)

	stored, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultSetup(), stored)

	installed, err = settings.LoadOrInstallDefaults()
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestLoadExistingSetup(t *testing.T) {
	settings, store, _ := newTestSettings(t)
	custom := DefaultSetup()
	custom.TargetSetpoint = 42
	require.NoError(t, store.Save(custom))

	installed, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, custom, settings.Snapshot())
}

func TestSettingsChangesPersist(t *testing.T) {
	settings, store, _ := newTestSettings(t)
	_, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)

	require.NoError(t, settings.SetGains(2, 0.5, 0.25))
	require.NoError(t, settings.SetRampRate(12))
	require.NoError(t, settings.SetRampSetpoint(30))
	require.NoError(t, settings.SetTargetSetpoint(175))
	require.NoError(t, settings.SetProportionalBand(15))
	require.NoError(t, settings.SetDirection(Reverse))
	require.NoError(t, settings.SetIdent("CH1 Test"))

	stored, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, settings.Snapshot(), stored)
	assert.Equal(t, 2.0, stored.Kp)
	assert.Equal(t, 0.5, stored.Ki)
	assert.Equal(t, 0.25, stored.Kd)
	assert.Equal(t, 12.0, stored.RampRate)
	assert.Equal(t, 30.0, stored.RampSetpoint)
	assert.Equal(t, 175.0, stored.TargetSetpoint)
	assert.Equal(t, 15.0, stored.ProportionalBand)
	assert.Equal(t, Reverse, stored.Direction)
	assert.Equal(t, "CH1 Test", stored.Ident)
}

func TestSettingsRejectsInvalid(t *testing.T) {
	settings, store, _ := newTestSettings(t)
	_, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)
	before := settings.Snapshot()

	assert.ErrorIs(t, settings.SetProportionalBand(0), ErrProportionalBand)
	assert.ErrorIs(t, settings.SetProportionalBand(-5), ErrProportionalBand)
	assert.ErrorIs(t, settings.SetTargetSetpoint(math.NaN()), ErrNotFinite)
	assert.ErrorIs(t, settings.SetGains(1, math.Inf(-1), 0), ErrNotFinite)
	assert.ErrorIs(t, settings.SetDirection(Direction(3)), ErrDirection)
	assert.ErrorIs(t, settings.SetIdent("A\x00B"), ErrIdentNUL)

	assert.Equal(t, before, settings.Snapshot())
	stored, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, before, stored)
}

func TestSettingsSaveFailureKeepsState(t *testing.T) {
	settings, _, nvm := newTestSettings(t)
	_, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)

	busy := errors.New("eeprom busy")
	nvm.FailWrite = busy
	assert.ErrorIs(t, settings.SetTargetSetpoint(1), busy)
	assert.Equal(t, 220.0, settings.Snapshot().TargetSetpoint)
}

func TestToggleDirection(t *testing.T) {
	settings, _, _ := newTestSettings(t)

	d, err := settings.ToggleDirection()
	require.NoError(t, err)
	assert.Equal(t, Reverse, d)

	d, err = settings.ToggleDirection()
	require.NoError(t, err)
	assert.Equal(t, Forward, d)
}

func TestResetToDefaultsAndClear(t *testing.T) {
	settings, store, _ := newTestSettings(t)
	require.NoError(t, settings.SetGains(9, 9, 9))

	settings.Clear()
	assert.False(t, settings.Snapshot().Valid())
	assert.Error(t, settings.PersistNow(), "cleared record cannot be persisted")

	require.NoError(t, settings.ResetToDefaults(12.5))
	want := DefaultSetup()
	want.MeasuredValue = 12.5
	assert.Equal(t, want, settings.Snapshot())

	stored, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, stored)
}

func TestNoteMeasuredValueIsNotPersisted(t *testing.T) {
	settings, store, _ := newTestSettings(t)
	_, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)

	settings.NoteMeasuredValue(99)
	assert.Equal(t, 99.0, settings.Snapshot().MeasuredValue)
	stored, _, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, stored.MeasuredValue)

	require.NoError(t, settings.PersistNow())
	stored, _, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, 99.0, stored.MeasuredValue)
}

func TestSettingsConcurrentAccess(t *testing.T) {
	settings, _, _ := newTestSettings(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = settings.SetTargetSetpoint(float64(i*100 + j))
				s := settings.Snapshot()
				assert.NoError(t, s.Validate())
			}
		}(i)
	}
	wg.Wait()
}

func TestSettingsErase(t *testing.T) {
	settings, store, _ := newTestSettings(t)
	_, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)

	require.NoError(t, settings.Erase())
	assert.False(t, settings.Snapshot().Valid())
	present, err := store.Present()
	require.NoError(t, err)
	assert.False(t, present)

	installed, err := settings.LoadOrInstallDefaults()
	require.NoError(t, err)
	assert.True(t, installed)
}
