package updater

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type versionServer struct {
	mux    sync.Mutex
	body   string
	status int
}

func (v *versionServer) set(body string, status int) {
	v.mux.Lock()
	defer v.mux.Unlock()
	v.body = body
	v.status = status
}

func (v *versionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mux.Lock()
	body, status := v.body, v.status
	v.mux.Unlock()
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newPollerForTest(t *testing.T, serverURL string, updateResult bool) (*poller, *int) {
	t.Helper()
	cfg := NewConfig()
	cfg.DeploymentURL = serverURL
	cfg.CurrentVersion = "1.0.0"

	attempts := 0
	state := NewUpdateState()
	p := newPoller(cfg, state, func(ctx context.Context) bool {
		attempts++
		return updateResult
	})
	return p, &attempts
}

func TestPollerTriggersUpdateOnce(t *testing.T) {
	srv := &versionServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p, attempts := newPollerForTest(t, ts.URL, true)
	ctx := context.Background()

	// sequence of poll results equivalent to [false true true false true]:
	// the update attempt must fire exactly once, on the first transition
	sequence := []string{"1.0.0", "2.0.0", "2.0.0", "0.9.0", "2.0.0"}
	for _, v := range sequence {
		srv.set(fmt.Sprintf(`{"version":%q}`, v), http.StatusOK)
		p.tick(ctx)
	}

	assert.Equal(t, 1, *attempts)
	assert.True(t, p.state.NeedsUpdate())
}

func TestPollerResolvesFalseWithoutWaitingWorker(t *testing.T) {
	srv := &versionServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p, attempts := newPollerForTest(t, ts.URL, false)
	ctx := context.Background()

	srv.set(`{"version":"99.0.0"}`, http.StatusOK)
	p.tick(ctx)
	p.tick(ctx)

	// the stream flips once: a failed attempt is not retried either
	assert.Equal(t, 1, *attempts)
	assert.False(t, p.state.NeedsUpdate())
}

func TestPollerSoftFailures(t *testing.T) {
	srv := &versionServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p, attempts := newPollerForTest(t, ts.URL, true)
	ctx := context.Background()

	testMatrix := []struct {
		name   string
		body   string
		status int
	}{
		{name: "server error", body: "", status: http.StatusInternalServerError},
		{name: "not json", body: "not json", status: http.StatusOK},
		{name: "missing version field", body: `{"release":"2.0.0"}`, status: http.StatusOK},
	}

	for _, c := range testMatrix {
		srv.set(c.body, c.status)
		p.tick(ctx)
		assert.Equal(t, 0, *attempts, c.name)
		assert.False(t, p.state.NeedsUpdate(), c.name)
	}

	// the schedule survives the failures: the next good tick still works
	srv.set(`{"version":"2.0.0"}`, http.StatusOK)
	p.tick(ctx)
	assert.Equal(t, 1, *attempts)
}

func TestPollerRunStops(t *testing.T) {
	srv := &versionServer{}
	srv.set(`{"version":"1.0.0"}`, http.StatusOK)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p, _ := newPollerForTest(t, ts.URL, true)
	p.cfg.PollInitialDelay = time.Millisecond
	p.cfg.PollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "poller did not stop on context cancellation")
	}
}
