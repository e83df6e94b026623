package worker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_AppliesDefaults(t *testing.T) {
	w := New(nil, nil, nil, nil, Config{}, discardLogger())

	assert.Equal(t, time.Second, w.cfg.PollInterval)
	assert.Equal(t, 30*time.Second, w.cfg.DrainTimeout)
	assert.Equal(t, 5*time.Minute, w.cfg.StaleSweepInterval)
	assert.Equal(t, StateStopped, w.State())
}

func TestNew_PreservesExplicitConfig(t *testing.T) {
	cfg := Config{PollInterval: 2 * time.Second, DrainTimeout: time.Minute, StaleSweepInterval: 10 * time.Minute}
	w := New(nil, nil, nil, nil, cfg, discardLogger())

	assert.Equal(t, 2*time.Second, w.cfg.PollInterval)
	assert.Equal(t, time.Minute, w.cfg.DrainTimeout)
	assert.Equal(t, 10*time.Minute, w.cfg.StaleSweepInterval)
}

func TestWorker_StateTransitionsDirectly(t *testing.T) {
	w := &Worker{state: StateStopped}
	assert.Equal(t, StateStopped, w.State())

	w.mu.Lock()
	w.state = StateRunning
	w.mu.Unlock()
	assert.Equal(t, StateRunning, w.State())

	w.mu.Lock()
	w.state = StateDraining
	w.mu.Unlock()
	assert.Equal(t, StateDraining, w.State())
}

func TestStop_OnStoppedWorkerIsNoop(t *testing.T) {
	w := &Worker{state: StateStopped, log: discardLogger()}
	err := w.Stop(nil) //nolint:staticcheck // no blocking path is taken when already stopped
	assert.NoError(t, err)
	assert.Equal(t, StateStopped, w.State())
}
