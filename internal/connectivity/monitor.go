// Package connectivity turns raw, possibly flickering online/offline signals
// into a stable state plus a sync trigger. Radios flap during handoffs
// (Wi-Fi to cellular); reacting to every transition would start and abandon
// drains repeatedly.
package connectivity

import (
	"context"
	"sync"
	"time"

	"masterok/internal/models"

	"github.com/rs/zerolog"
)

// Engine is the slice of the sync engine the monitor drives. Satisfied by
// *syncer.Engine.
type Engine interface {
	SetOnline(online bool)
	SyncPending(ctx context.Context) ([]models.SyncResult, error)
}

// Prober checks reachability of the remote API. Satisfied by *remote.Client.
type Prober interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	engine Engine
	window time.Duration
	logger *zerolog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	lastRaw   bool
	committed bool
	onOnline  func(ctx context.Context)
}

// NewMonitor starts in the committed "offline" state; the first stable
// online signal triggers a drain.
func NewMonitor(engine Engine, window time.Duration, logger *zerolog.Logger) *Monitor {
	if window <= 0 {
		window = models.DefaultDebounceWindow
	}
	return &Monitor{engine: engine, window: window, logger: logger}
}

// OnOnline registers a hook invoked after each committed offline-to-online
// transition, once the post-reconnect drain has run. Must be set before the
// first Signal.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// Signal feeds one raw signal. Only a change of raw value is a transition:
// a transition resets the debounce timer and the state commits once the
// window passes without a further transition. Repeats of the current raw
// value are ignored, so a steady heartbeat (the UI or the probe reporting
// the same state faster than the window) cannot hold off the commit.
func (m *Monitor) Signal(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.lastRaw {
		return
	}

	m.lastRaw = online
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.window, m.commit)
}

func (m *Monitor) commit() {
	m.mu.Lock()
	raw := m.lastRaw
	changed := raw != m.committed
	m.committed = raw
	hook := m.onOnline
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info().Bool("online", raw).Msg("Connectivity state committed")
	m.engine.SetOnline(raw)

	if raw {
		if _, err := m.engine.SyncPending(context.Background()); err != nil {
			m.logger.Error().Err(err).Msg("Drain after reconnect failed")
		}
		if hook != nil {
			hook(context.Background())
		}
	}
}

// IsOnline reports the committed state, not the raw signal.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Stop cancels any pending commit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
}

// RunProbe polls the remote health endpoint and feeds the result in as a raw
// signal, so connectivity recovers even when the platform never reports it.
func (m *Monitor) RunProbe(ctx context.Context, prober Prober, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := prober.Ping(probeCtx)
			cancel()
			m.Signal(err == nil)
		}
	}
}
