// Package updater coordinates detection of a newer deployed version and
// the switch of a long-lived session to it: a periodic version poll and
// the worker-host install lifecycle feed one deduplicated needs-update
// signal, and a reload coordinator swaps the active worker and reloads
// the session exactly once.
package updater

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/updraftio/updraft/client/internal/telemetry"
	"github.com/updraftio/updraft/client/internal/worker"
)

// Manager owns the update-detection components and their shared state.
// Construct one per session with NewManager and run it with Start.
type Manager struct {
	cfg      *Config
	state    *UpdateState
	watcher  *watcher
	poller   *poller
	reloader *reloader

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires the updater against the given worker host. reloadFn
// performs the actual session reload (process restart, page refresh);
// it is invoked at most once per update cycle by the lifecycle path and
// unconditionally by failing reload paths.
func NewManager(cfg *Config, api worker.API, reporter telemetry.Reporter, reloadFn func()) *Manager {
	if reporter == nil {
		reporter = telemetry.LogReporter{}
	}

	state := NewUpdateState()
	w := newWatcher(cfg, api, state, reporter, reloadFn)

	return &Manager{
		cfg:      cfg,
		state:    state,
		watcher:  w,
		poller:   newPoller(cfg, state, w.updateWorker),
		reloader: newReloader(cfg, w, reporter, reloadFn),
	}
}

// Start launches the worker watcher and the version poller. Both run
// until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		log.Errorf("update manager already started")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.watcher.run(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.poller.run(ctx)
	}()
}

// Stop cancels the background loops and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}

	m.cancel()
	m.wg.Wait()
	m.cancel = nil
}

// NeedsUpdate reports whether a newer version is known to be available.
func (m *Manager) NeedsUpdate() bool {
	return m.state.NeedsUpdate()
}

// AddListener subscribes fn to needs-update changes. The current value
// is replayed immediately; the returned function unsubscribes.
func (m *Manager) AddListener(fn func(bool)) func() {
	return m.state.AddListener(fn)
}

// ReloadNow switches the session to the newest installed worker and
// reloads. It never fails: worst case is an unconditional reload.
func (m *Manager) ReloadNow(ctx context.Context) {
	m.reloader.reloadNow(ctx)
}
