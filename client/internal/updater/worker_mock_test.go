package updater

import (
	"context"
	"sync"

	"github.com/updraftio/updraft/client/internal/worker"
)

type workerInstanceMock struct {
	id      string
	state   worker.State
	postErr error

	mux    sync.Mutex
	posted []string
}

func (i *workerInstanceMock) ID() string {
	return i.id
}

func (i *workerInstanceMock) State() worker.State {
	return i.state
}

func (i *workerInstanceMock) PostMessage(msg string) error {
	i.mux.Lock()
	defer i.mux.Unlock()
	i.posted = append(i.posted, msg)
	return i.postErr
}

func (i *workerInstanceMock) postedMessages() []string {
	i.mux.Lock()
	defer i.mux.Unlock()
	out := make([]string, len(i.posted))
	copy(out, i.posted)
	return out
}

type workerRegistrationMock struct {
	events    chan worker.Event
	updateErr error
	// updateFn lets a test flip the mock's shape when the update check runs
	updateFn func()

	mux        sync.Mutex
	installing worker.Instance
	waiting    worker.Instance
	active     worker.Instance
}

func newWorkerRegistrationMock() *workerRegistrationMock {
	return &workerRegistrationMock{events: make(chan worker.Event, 16)}
}

func (r *workerRegistrationMock) Update(_ context.Context) error {
	if r.updateFn != nil {
		r.updateFn()
	}
	return r.updateErr
}

func (r *workerRegistrationMock) Installing() worker.Instance {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.installing
}

func (r *workerRegistrationMock) Waiting() worker.Instance {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.waiting
}

func (r *workerRegistrationMock) Active() worker.Instance {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.active
}

func (r *workerRegistrationMock) Events() <-chan worker.Event {
	return r.events
}

func (r *workerRegistrationMock) setWaiting(inst worker.Instance) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.waiting = inst
}

func (r *workerRegistrationMock) setInstalling(inst worker.Instance) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.installing = inst
}

type workerAPIMock struct {
	reg         *workerRegistrationMock
	registerErr error

	mux           sync.Mutex
	registerCalls int
	controller    worker.Instance
}

func (a *workerAPIMock) Register(_ context.Context, _ string) (worker.Registration, error) {
	a.mux.Lock()
	a.registerCalls++
	a.mux.Unlock()
	if a.registerErr != nil {
		return nil, a.registerErr
	}
	return a.reg, nil
}

func (a *workerAPIMock) Controller() worker.Instance {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.controller
}

func (a *workerAPIMock) setController(inst worker.Instance) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.controller = inst
}

func (a *workerAPIMock) registerAttempts() int {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.registerCalls
}
