package updater

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/updraftio/updraft/client/internal/telemetry"
	"github.com/updraftio/updraft/client/internal/worker"
)

const registerMaxRetries = 3

// watcher registers the worker script with the host and tracks the
// install state machine of the instances the host spawns. It owns the
// registration handle and is the only consumer of the host's event
// stream; everything downstream reads the UpdateState it writes to.
type watcher struct {
	api        worker.API
	state      *UpdateState
	reporter   telemetry.Reporter
	scriptPath string
	reloadFn   func()
	log        *log.Entry

	mux          sync.Mutex
	registration worker.Registration
	// reloadGate is armed when an updated instance finishes installing
	// over a live controller; the first controller change fires the
	// reload, duplicates bounce off the gate.
	reloadGate *gate
	cycleID    string
	// skipOnInstall is armed by the reload coordinator when the user asks
	// to reload while an instance is still installing.
	skipOnInstall *gate

	registerBackoff func(ctx context.Context) backoff.BackOff
}

func newWatcher(cfg *Config, api worker.API, state *UpdateState, reporter telemetry.Reporter, reloadFn func()) *watcher {
	return &watcher{
		api:        api,
		state:      state,
		reporter:   reporter,
		scriptPath: cfg.WorkerScriptPath,
		reloadFn:   reloadFn,
		log:        log.WithField("mod", "worker-watcher"),
		registerBackoff: func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), registerMaxRetries), ctx)
		},
	}
}

func (w *watcher) run(ctx context.Context) {
	reg, err := w.register(ctx)
	if err != nil {
		// the session keeps running, just without update detection
		w.log.Errorf("worker registration failed, update detection disabled: %v", err)
		w.reporter.ReportException("worker-register", err)
		return
	}

	w.mux.Lock()
	w.registration = reg
	w.mux.Unlock()
	w.log.Infof("worker %s registered", w.scriptPath)

	for {
		select {
		case <-ctx.Done():
			w.log.Debugf("worker watcher stopped")
			return
		case ev, ok := <-reg.Events():
			if !ok {
				w.log.Debugf("worker host closed the event stream")
				return
			}
			w.handleEvent(ev)
		}
	}
}

func (w *watcher) register(ctx context.Context) (worker.Registration, error) {
	operation := func() (worker.Registration, error) {
		reg, err := w.api.Register(ctx, w.scriptPath)
		if err != nil {
			w.log.Warnf("worker registration attempt failed: %v", err)
			return nil, err
		}
		return reg, nil
	}

	return backoff.RetryWithData(operation, w.registerBackoff(ctx))
}

func (w *watcher) handleEvent(ev worker.Event) {
	switch ev.Kind {
	case worker.EventUpdateFound:
		w.log.Infof("new worker %s began installing", ev.Instance.ID())
	case worker.EventStateChange:
		w.log.Debugf("worker %s changed state to %s", ev.Instance.ID(), ev.State)
		if ev.State == worker.StateInstalled {
			w.onInstalled(ev.Instance)
		}
	case worker.EventControllerChange:
		w.onControllerChange()
	}
}

// onInstalled decides whether a freshly installed instance is a genuine
// update or the very first install of the session.
func (w *watcher) onInstalled(inst worker.Instance) {
	w.mux.Lock()
	skip := w.skipOnInstall
	w.mux.Unlock()
	if skip != nil && skip.TryAcquire() {
		// a reload was requested while this instance was still
		// installing; tell it to take over right away
		if err := inst.PostMessage(worker.SkipWaitingMessage); err != nil {
			w.log.Errorf("failed to post %s to worker %s: %v", worker.SkipWaitingMessage, inst.ID(), err)
			w.reporter.ReportException("worker-skip-waiting", err)
		}
	}

	if w.api.Controller() == nil {
		// first ever install: the offline cache is warm, nothing controls
		// the session yet and no reload is needed
		w.log.Infof("worker %s installed for the first time", inst.ID())
		return
	}

	w.mux.Lock()
	if w.reloadGate == nil || w.reloadGate.Fired() {
		w.reloadGate = newGate()
		w.cycleID = uuid.NewString()
	}
	cycle := w.cycleID
	w.mux.Unlock()

	w.log.WithField("cycle", cycle).Infof("updated worker %s installed and waiting to take over", inst.ID())
	w.state.SetWorkerUpdated()
}

// onControllerChange reloads the session exactly once per armed cycle.
// Duplicate deliveries happen in the wild (development tooling re-fires
// the event) and must not reload twice.
func (w *watcher) onControllerChange() {
	w.mux.Lock()
	armed := w.reloadGate != nil
	w.mux.Unlock()

	if !armed {
		w.log.Debugf("controller changed with no reload armed")
		return
	}
	w.reloadOnce("controller changed")
}

// reloadOnce fires the session reload for the current cycle at most
// once. The controller-change path and the grace-period fallback in the
// reload coordinator go through the same gate, so whichever comes first
// wins and the other bounces.
func (w *watcher) reloadOnce(origin string) {
	w.mux.Lock()
	if w.reloadGate == nil {
		w.reloadGate = newGate()
	}
	g := w.reloadGate
	cycle := w.cycleID
	w.mux.Unlock()

	if !g.TryAcquire() {
		w.log.WithField("cycle", cycle).Debugf("%s, reload already fired for this cycle", origin)
		return
	}

	w.log.WithField("cycle", cycle).Infof("%s, reloading session", origin)
	w.reloadFn()
}

// updateWorker runs one update check against the registration. It
// reports whether an updated worker ended up waiting; every failure is
// absorbed into false.
func (w *watcher) updateWorker(ctx context.Context) bool {
	w.mux.Lock()
	reg := w.registration
	w.mux.Unlock()

	if reg == nil {
		w.log.Debugf("update check skipped, worker not registered")
		return false
	}

	if err := reg.Update(ctx); err != nil {
		w.log.Errorf("worker update check failed: %v", err)
		w.reporter.ReportException("worker-update", err)
		return false
	}

	return reg.Waiting() != nil
}

// currentRegistration returns the registration handle, or nil before
// registration succeeded.
func (w *watcher) currentRegistration() worker.Registration {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.registration
}

// armSkipWaitingOnInstall makes the next installed instance take over
// immediately. Used by the reload coordinator when a reload is requested
// mid-install.
func (w *watcher) armSkipWaitingOnInstall() {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.skipOnInstall == nil || w.skipOnInstall.Fired() {
		w.skipOnInstall = newGate()
	}
}
