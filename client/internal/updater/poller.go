package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/updraftio/updraft/version"
)

const (
	fetchTimeout = 30 * time.Second
	// version.json is a handful of bytes; anything bigger is not ours
	maxVersionDocSize = 1024
)

type versionDoc struct {
	Version string `json:"version"`
}

// poller asks the deployment which version is current and turns the
// answer into a one-shot needs-update resolution. Fetch failures are
// soft: logged and retried on the next tick, never fatal to the loop.
type poller struct {
	cfg    *Config
	state  *UpdateState
	client *http.Client
	log    *log.Entry

	// updateFn runs the single worker update attempt; its result is what
	// resolves the server-ahead latch.
	updateFn func(ctx context.Context) bool
	// attemptGate ensures only the first behind-detection triggers the
	// attempt, no matter how many later ticks still see us behind.
	attemptGate *gate
}

func newPoller(cfg *Config, state *UpdateState, updateFn func(ctx context.Context) bool) *poller {
	return &poller{
		cfg:         cfg,
		state:       state,
		client:      &http.Client{Timeout: fetchTimeout},
		log:         log.WithField("mod", "poller"),
		updateFn:    updateFn,
		attemptGate: newGate(),
	}
}

func (p *poller) run(ctx context.Context) {
	timer := time.NewTimer(p.cfg.PollInitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Debugf("version poller stopped")
			return
		case <-timer.C:
		}

		p.tick(ctx)
		timer.Reset(p.cfg.PollInterval)
	}
}

// tick performs one fetch-compare-maybe-update round.
func (p *poller) tick(ctx context.Context) {
	deployed, err := p.fetchVersion(ctx)
	if err != nil {
		p.log.Errorf("failed to fetch deployed version: %v", err)
		return
	}

	if !version.IsNewer(deployed, p.cfg.CurrentVersion) {
		return
	}

	if !p.attemptGate.TryAcquire() {
		// already attempted this session, the stream only flips once
		return
	}

	p.log.Infof("deployed version %s is newer than running version %s, checking worker for an update",
		deployed, p.cfg.CurrentVersion)

	if p.updateFn(ctx) {
		p.state.SetServerAhead()
	} else {
		p.log.Infof("no updated worker ended up waiting, not flagging an update")
	}
}

func (p *poller) fetchVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.VersionURL(), nil)
	if err != nil {
		return "", fmt.Errorf("create version request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch version info: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.log.Warnf("failed to close version response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invalid status code: %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionDocSize))
	if err != nil {
		return "", fmt.Errorf("read version response: %w", err)
	}

	var doc versionDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse version document: %w", err)
	}
	if doc.Version == "" {
		return "", fmt.Errorf("version document carries no version")
	}

	return doc.Version, nil
}
