// Package hostworker is an in-process worker host: it stages version
// bundles downloaded from the deployment into a staging directory, holds
// a freshly installed bundle in waiting, and promotes it to the current
// bundle when told to skip waiting. The session that restarts afterwards
// boots from the promoted bundle.
package hostworker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/updraftio/updraft/client/internal/worker"
)

const (
	bundleFileName  = "bundle"
	downloadTimeout = 5 * time.Minute
	eventBufferSize = 32
)

// Host implements worker.API for a single session directory.
type Host struct {
	baseURL string
	dir     string
	client  *http.Client
	log     *log.Entry

	mux        sync.Mutex
	reg        *registration
	controller *instance
	// lastSum is the checksum of the newest staged or promoted bundle;
	// an update fetch matching it is not a new version.
	lastSum [sha256.Size]byte
	haveSum bool
}

// New creates a host rooted at dir. If a previously promoted bundle
// exists there, the session counts as controlled by it from the start.
func New(baseURL, dir string) *Host {
	h := &Host{
		baseURL: strings.TrimRight(baseURL, "/"),
		dir:     dir,
		client:  &http.Client{Timeout: downloadTimeout},
		log:     log.WithField("mod", "hostworker"),
	}

	currentBundle := filepath.Join(dir, "current", bundleFileName)
	if data, err := os.ReadFile(currentBundle); err == nil {
		inst := &instance{
			id:    uuid.NewString(),
			host:  h,
			state: worker.StateActivated,
			dir:   filepath.Join(dir, "current"),
		}
		h.controller = inst
		h.lastSum = sha256.Sum256(data)
		h.haveSum = true
		h.log.Debugf("session starts under worker %s (promoted bundle found)", inst.id)
	}

	return h
}

// Register installs the worker script with the host. Registering twice
// returns the same handle.
func (h *Host) Register(ctx context.Context, scriptPath string) (worker.Registration, error) {
	h.mux.Lock()
	if h.reg != nil {
		existing := h.reg
		h.mux.Unlock()
		return existing, nil
	}

	reg := &registration{
		host:       h,
		scriptPath: scriptPath,
		events:     make(chan worker.Event, eventBufferSize),
	}
	if h.controller != nil {
		h.controller.reg = reg
		reg.active = h.controller
	}
	h.reg = reg
	fresh := h.controller == nil
	h.mux.Unlock()

	if fresh {
		// fresh session: stage the first bundle in the background
		go func() {
			if err := reg.install(ctx); err != nil {
				h.log.Errorf("initial worker install failed: %v", err)
			}
		}()
	}

	return reg, nil
}

// Controller returns the instance that controls the running session:
// the one the session booted from, or the last one promoted through
// skip-waiting. A worker installed for the first time mid-session does
// not control it; it controls the next one.
func (h *Host) Controller() worker.Instance {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.controller == nil {
		return nil
	}
	return h.controller
}

// Close shuts the event stream down. The registration handle stays
// readable but delivers no further events.
func (h *Host) Close() {
	h.mux.Lock()
	reg := h.reg
	h.mux.Unlock()
	if reg != nil {
		reg.closeOnce.Do(func() { close(reg.events) })
	}
}

func (h *Host) fetchScript(ctx context.Context, scriptPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+scriptPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create bundle request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download bundle: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			h.log.Warnf("failed to close bundle response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid status code downloading bundle: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return data, nil
}

// promote moves the staged bundle of inst into the current slot.
func (h *Host) promote(inst *instance) error {
	currentDir := filepath.Join(h.dir, "current")
	if err := os.RemoveAll(currentDir); err != nil {
		return fmt.Errorf("clear current bundle: %w", err)
	}
	if err := os.Rename(inst.dir, currentDir); err != nil {
		return fmt.Errorf("promote staged bundle: %w", err)
	}
	inst.dir = currentDir
	return nil
}

func (h *Host) skipWaiting(inst *instance) error {
	h.mux.Lock()
	reg := h.reg
	h.mux.Unlock()
	if reg == nil {
		return fmt.Errorf("worker not registered")
	}

	reg.mux.Lock()
	if reg.waiting != inst {
		reg.mux.Unlock()
		return fmt.Errorf("worker %s is not waiting", inst.id)
	}
	reg.waiting = nil
	reg.mux.Unlock()

	inst.setState(worker.StateActivating)
	if err := h.promote(inst); err != nil {
		inst.setState(worker.StateRedundant)
		return err
	}

	h.mux.Lock()
	old := h.controller
	h.controller = inst
	h.mux.Unlock()

	reg.mux.Lock()
	reg.active = inst
	reg.mux.Unlock()

	inst.setState(worker.StateActivated)
	if old != nil {
		old.setState(worker.StateRedundant)
	}

	h.log.Infof("worker %s took over as controller", inst.id)
	reg.emit(worker.Event{Kind: worker.EventControllerChange, Instance: inst})
	return nil
}

type registration struct {
	host       *Host
	scriptPath string
	events     chan worker.Event
	closeOnce  sync.Once

	mux sync.Mutex
	// installInFlight covers the whole fetch-and-stage, not just the
	// window where installing is set; concurrent Update calls coalesce.
	installInFlight bool
	installing      *instance
	waiting         *instance
	active          *instance
}

// Update checks the deployment for a newer bundle and stages it. It
// returns once the install settled, so a caller checking Waiting right
// after gets the fresh answer.
func (r *registration) Update(ctx context.Context) error {
	return r.install(ctx)
}

func (r *registration) Installing() worker.Instance {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.installing == nil {
		return nil
	}
	return r.installing
}

func (r *registration) Waiting() worker.Instance {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.waiting == nil {
		return nil
	}
	return r.waiting
}

func (r *registration) Active() worker.Instance {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active
}

func (r *registration) Events() <-chan worker.Event {
	return r.events
}

func (r *registration) install(ctx context.Context) error {
	r.mux.Lock()
	if r.installInFlight {
		r.mux.Unlock()
		// an install is already fetching or staging, coalesce
		return nil
	}
	r.installInFlight = true
	r.mux.Unlock()
	defer func() {
		r.mux.Lock()
		r.installInFlight = false
		r.mux.Unlock()
	}()

	data, err := r.host.fetchScript(ctx, r.scriptPath)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	r.host.mux.Lock()
	if r.host.haveSum && r.host.lastSum == sum {
		r.host.mux.Unlock()
		r.host.log.Debugf("bundle unchanged, nothing to install")
		return nil
	}
	r.host.mux.Unlock()

	id := uuid.NewString()
	inst := &instance{
		id:    id,
		host:  r.host,
		reg:   r,
		state: worker.StateInstalling,
		dir:   filepath.Join(r.host.dir, "staging", id),
	}

	r.mux.Lock()
	r.installing = inst
	r.mux.Unlock()

	r.emit(worker.Event{Kind: worker.EventUpdateFound, Instance: inst, State: worker.StateInstalling})
	r.emit(worker.Event{Kind: worker.EventStateChange, Instance: inst, State: worker.StateInstalling})

	if err := r.stage(inst, data); err != nil {
		r.mux.Lock()
		r.installing = nil
		r.mux.Unlock()
		inst.setState(worker.StateRedundant)
		return err
	}

	r.host.mux.Lock()
	r.host.lastSum = sum
	r.host.haveSum = true
	fresh := r.host.controller == nil
	r.host.mux.Unlock()

	r.mux.Lock()
	r.installing = nil
	if fresh {
		r.active = inst
	} else {
		r.waiting = inst
	}
	r.mux.Unlock()

	inst.setState(worker.StateInstalled)

	if fresh {
		// first ever install: activate in place so the next session boots
		// from it; the running session stays uncontrolled
		inst.setState(worker.StateActivating)
		if err := r.host.promote(inst); err != nil {
			inst.setState(worker.StateRedundant)
			return err
		}
		inst.setState(worker.StateActivated)
	}

	return nil
}

func (r *registration) stage(inst *instance, data []byte) error {
	if err := os.MkdirAll(inst.dir, 0750); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(inst.dir, bundleFileName), data, 0640); err != nil {
		return fmt.Errorf("write staged bundle: %w", err)
	}
	return nil
}

func (r *registration) emit(ev worker.Event) {
	select {
	case r.events <- ev:
	default:
		r.host.log.Warnf("worker event buffer full, dropping event for instance %s", ev.Instance.ID())
	}
}

type instance struct {
	id   string
	host *Host
	reg  *registration

	mux   sync.Mutex
	state worker.State
	dir   string
}

func (i *instance) ID() string {
	return i.id
}

func (i *instance) State() worker.State {
	i.mux.Lock()
	defer i.mux.Unlock()
	return i.state
}

// PostMessage handles the one message the updater sends.
func (i *instance) PostMessage(msg string) error {
	if msg != worker.SkipWaitingMessage {
		return fmt.Errorf("unsupported worker message %q", msg)
	}
	return i.host.skipWaiting(i)
}

func (i *instance) setState(s worker.State) {
	i.mux.Lock()
	i.state = s
	i.mux.Unlock()
	if i.reg != nil {
		i.reg.emit(worker.Event{Kind: worker.EventStateChange, Instance: i, State: s})
	}
}
