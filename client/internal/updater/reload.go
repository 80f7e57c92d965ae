package updater

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/updraftio/updraft/client/internal/telemetry"
	"github.com/updraftio/updraft/client/internal/worker"
)

// reloader performs the user- or system-triggered switch to the new
// version. It never surfaces an error: every failure path ends in the
// unconditional reload, so the session is never left stuck on a dead
// version.
type reloader struct {
	watcher  *watcher
	reporter telemetry.Reporter
	grace    time.Duration
	reloadFn func()
	log      *log.Entry
}

func newReloader(cfg *Config, w *watcher, reporter telemetry.Reporter, reloadFn func()) *reloader {
	return &reloader{
		watcher:  w,
		reporter: reporter,
		grace:    cfg.ReloadGrace,
		reloadFn: reloadFn,
		log:      log.WithField("mod", "reloader"),
	}
}

// reloadNow hands the session over to the newest worker and reloads.
func (r *reloader) reloadNow(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("reload sequence panicked: %v", rec)
			r.log.Errorf("%v", err)
			r.reporter.ReportException("reload", err)
			r.reloadFn()
		}
	}()

	reg := r.watcher.currentRegistration()
	if reg == nil {
		r.log.Infof("no worker registration, reloading immediately")
		r.reloadFn()
		return
	}

	if waiting := reg.Waiting(); waiting != nil {
		r.log.Infof("telling waiting worker %s to take over", waiting.ID())
		if err := waiting.PostMessage(worker.SkipWaitingMessage); err != nil {
			r.log.Errorf("failed to post %s: %v", worker.SkipWaitingMessage, err)
			r.reporter.ReportException("reload-skip-waiting", err)
			r.reloadFn()
			return
		}
		// insurance: if the controller change never arrives, reload
		// anyway. Sharing the cycle gate with the controller-change path
		// keeps the reload single even when both fire.
		time.AfterFunc(r.grace, func() {
			r.watcher.reloadOnce("grace period elapsed without a controller change")
		})
		return
	}

	if installing := reg.Installing(); installing != nil {
		r.log.Infof("worker %s still installing, it will take over once installed", installing.ID())
		// the controller-change path performs the reload for this cycle
		r.watcher.armSkipWaitingOnInstall()
		return
	}

	r.log.Infof("no waiting or installing worker, reloading immediately")
	r.reloadFn()
}
