package updater

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// UpdateState records the two independent "a new version exists" signals
// and derives the session-wide needs-update flag from them. Both inputs
// are one-shot latches, so the derived flag is monotonic: once true it
// stays true until the session ends.
//
// One UpdateState is constructed per Manager and injected into the
// components that write to it; nothing in this package keeps ambient
// state.
type UpdateState struct {
	mux           sync.Mutex
	serverAhead   bool
	workerUpdated bool

	// listenerMux guards the listener set and serializes deliveries.
	// Listeners are invoked without mux held, so a listener is free to
	// call NeedsUpdate.
	listenerMux    sync.Mutex
	nextListenerID int
	listeners      map[int]func(bool)
	delivered      bool
}

func NewUpdateState() *UpdateState {
	return &UpdateState{
		listeners: make(map[int]func(bool)),
	}
}

// NeedsUpdate reports whether either input latch is set.
func (s *UpdateState) NeedsUpdate() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.serverAhead || s.workerUpdated
}

// SetServerAhead latches the server-poll signal. Set once; repeated calls
// are no-ops and listeners are notified only when the derived flag
// changes.
func (s *UpdateState) SetServerAhead() {
	s.latch(&s.serverAhead, "deployed version is ahead of the running session")
}

// SetWorkerUpdated latches the worker-lifecycle signal.
func (s *UpdateState) SetWorkerUpdated() {
	s.latch(&s.workerUpdated, "an updated worker finished installing")
}

// latch sets one input flag and, on the false-to-true transition of the
// derived value, notifies the listeners. The value lock is released
// before any listener runs.
func (s *UpdateState) latch(flag *bool, reason string) {
	s.mux.Lock()
	if *flag {
		s.mux.Unlock()
		return
	}
	wasNeeded := s.serverAhead || s.workerUpdated
	*flag = true
	s.mux.Unlock()

	if wasNeeded {
		// derived value did not change, nothing to re-emit
		return
	}

	log.Infof("update available: %s", reason)

	s.listenerMux.Lock()
	defer s.listenerMux.Unlock()
	if s.delivered {
		return
	}
	s.delivered = true
	for _, fn := range s.listeners {
		fn(true)
	}
}

// AddListener registers fn for needs-update changes and replays the
// last delivered value to it immediately, so late subscribers do not
// miss an already-latched update. Deliveries to a single listener are
// in order and never duplicated. The returned function unregisters fn.
func (s *UpdateState) AddListener(fn func(bool)) func() {
	s.listenerMux.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = fn
	fn(s.delivered)
	s.listenerMux.Unlock()

	return func() {
		s.listenerMux.Lock()
		defer s.listenerMux.Unlock()
		delete(s.listeners, id)
	}
}
