// Package worker defines the capability surface of the background worker
// host. The updater drives and observes this surface only; concrete hosts
// (in-process staging host, test fakes) live elsewhere.
package worker

import "context"

// SkipWaitingMessage tells a waiting instance to take over as controller
// immediately instead of waiting for the session to end. It is the only
// message the updater ever posts.
const SkipWaitingMessage = "skipWaiting"

// State is the install lifecycle state of a single worker instance.
type State int

const (
	// StateInstalling means the instance is staging its version bundle.
	StateInstalling State = iota
	// StateInstalled means staging finished; the instance is waiting to
	// take over.
	StateInstalled
	// StateActivating means the instance is taking over the session.
	StateActivating
	// StateActivated means the instance controls the session.
	StateActivated
	// StateRedundant means the instance was replaced or failed install.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// EventKind discriminates lifecycle events delivered by a registration.
type EventKind int

const (
	// EventUpdateFound signals that a new instance began installing.
	EventUpdateFound EventKind = iota
	// EventStateChange signals that an instance changed lifecycle state.
	EventStateChange
	// EventControllerChange signals that the instance controlling the
	// session changed.
	EventControllerChange
)

// Event is one lifecycle notification from the worker host. Instance is
// the instance concerned: the installing instance for EventUpdateFound
// and EventStateChange, the new controller for EventControllerChange.
type Event struct {
	Kind     EventKind
	Instance Instance
	State    State
}

// Instance is one worker process managed by the host.
type Instance interface {
	ID() string
	State() State
	// PostMessage delivers a control message to the instance.
	PostMessage(msg string) error
}

// Registration is the handle obtained by registering a worker script
// with the host. It stays valid for the session lifetime.
type Registration interface {
	// Update asks the host to check for a newer worker script and start
	// installing it if one exists.
	Update(ctx context.Context) error
	// Installing returns the instance currently staging, or nil.
	Installing() Instance
	// Waiting returns the installed instance waiting to take over, or nil.
	Waiting() Instance
	// Active returns the activated instance, or nil.
	Active() Instance
	// Events delivers lifecycle events in the order the host observed
	// them. The channel is closed only when the host shuts down.
	Events() <-chan Event
}

// API is the worker-host registration capability the session runs on.
type API interface {
	// Register installs the worker script with the host and returns the
	// registration handle.
	Register(ctx context.Context, scriptPath string) (Registration, error)
	// Controller returns the instance currently controlling the session,
	// or nil when no worker has taken control yet.
	Controller() Instance
}
