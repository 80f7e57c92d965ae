// Package telemetry carries caught errors to the exception sink.
package telemetry

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Reporter is the exception sink. Every error the updater absorbs is
// forwarded here in addition to being logged.
type Reporter interface {
	ReportException(tag string, err error)
}

// LogReporter forwards exceptions to the process log only. It is the
// default sink when no external telemetry backend is wired in.
type LogReporter struct{}

func (LogReporter) ReportException(tag string, err error) {
	log.WithField("tag", tag).Errorf("reported exception: %v", err)
}

// Recorder collects reported exceptions, for tests.
type Recorder struct {
	mux    sync.Mutex
	events []RecordedException
}

type RecordedException struct {
	Tag string
	Err error
}

func (r *Recorder) ReportException(tag string, err error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.events = append(r.events, RecordedException{Tag: tag, Err: err})
}

// Exceptions returns a snapshot of everything reported so far.
func (r *Recorder) Exceptions() []RecordedException {
	r.mux.Lock()
	defer r.mux.Unlock()
	out := make([]RecordedException, len(r.events))
	copy(out, r.events)
	return out
}
