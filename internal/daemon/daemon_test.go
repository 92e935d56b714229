package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/config"
	"fleetwatch/internal/distributor"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/history"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/poller"
	"fleetwatch/pkg/sshutil"
	sshtesting "fleetwatch/pkg/sshutil/testing"
)

// healthyMock returns a mock client answering every probe with sane output,
// including one attached tmux session named "work".
func healthyMock(host string) *sshtesting.MockClient {
	m := sshtesting.NewMockClient(host)
	m.SetOutput(`^top`, "12.5")
	m.SetOutput(`^free`, "2048 8192 25.0")
	m.SetOutput(`^cat /proc/loadavg`, "0.52 0.48 0.40")
	m.SetOutput(`tmux list-sessions`, "work|1756300000|1|2|1756400000\n")
	m.SetOutput(`tmux list-panes`, "work|4242\n")
	m.SetOutput(`^ps`, "4242 1 1.5 10240\n4300 4242 0.5 2048\n")
	m.SetOutput(`tmux kill-session`, "")
	return m
}

type fixture struct {
	daemon *Daemon
	hub    *distributor.Hub
	store  *history.MemoryStore
	mocks  map[string]*sshtesting.MockClient
}

func newFixture(t *testing.T, hosts []config.Host, down map[string]bool) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Hosts = hosts

	// The dialer runs on the poller's per-host goroutines.
	var mocksMu sync.Mutex
	mocks := make(map[string]*sshtesting.MockClient)
	pool := sshutil.NewPoolWithDialer(func(host string) (sshutil.SSHClient, error) {
		if down[host] {
			return nil, fmt.Errorf("dial tcp %s:22: connection refused", host)
		}
		mocksMu.Lock()
		defer mocksMu.Unlock()
		if m, ok := mocks[host]; ok {
			return m, nil
		}
		m := healthyMock(host)
		mocks[host] = m
		return m, nil
	})

	log := logger.Noop()
	p := poller.New(pool, time.Second, 4, log)
	engine := alerts.NewEngine(cfg.Alerts, cfg.LegacyThreshold, log)
	store := history.NewMemoryStore(cfg.History.Retention)
	hub := distributor.NewHub(8, log)

	return &fixture{
		daemon: New(cfg, p, engine, store, hub, log),
		hub:    hub,
		store:  store,
		mocks:  mocks,
	}
}

func testHosts(names ...string) []config.Host {
	hosts := make([]config.Host, 0, len(names))
	for _, n := range names {
		hosts = append(hosts, config.Host{Name: n})
	}
	return hosts
}

func TestRunCyclePublishesSnapshot(t *testing.T) {
	f := newFixture(t, testHosts("alpha", "beta"), nil)

	snap := f.daemon.RunCycle(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Len(t, snap.Hosts, 2)

	state := f.hub.Current()
	require.NotNil(t, state)
	assert.Same(t, snap, state.Snapshot)

	host := snap.FindHost("alpha")
	require.NotNil(t, host)
	assert.Equal(t, fleet.HostOnline, host.Status)
	require.NotNil(t, snap.FindSession("alpha:work"))
}

func TestRunCycleSurvivesUnreachableHost(t *testing.T) {
	f := newFixture(t, testHosts("alpha", "beta"), map[string]bool{"beta": true})

	snap := f.daemon.RunCycle(context.Background())

	assert.Equal(t, fleet.HostOnline, snap.FindHost("alpha").Status)
	down := snap.FindHost("beta")
	assert.Equal(t, fleet.HostOffline, down.Status)
	assert.Contains(t, down.Error, "connection refused")

	// The offline host raises an alert that rides along with the state.
	state := f.hub.Current()
	require.Len(t, state.Alerts, 1)
	assert.Equal(t, alerts.TypeHostOffline, state.Alerts[0].Type)
}

func TestRunCyclePersistsHistory(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)
	ctx := context.Background()

	f.daemon.RunCycle(ctx)
	f.daemon.RunCycle(ctx)

	samples, err := f.store.HostSamples(ctx, "alpha", time.Time{})
	require.NoError(t, err)
	assert.Len(t, samples, 2)
	assert.Equal(t, 1, samples[0].SessionCount)
}

func TestRunCycleIncrementsSeq(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)
	ctx := context.Background()

	first := f.daemon.RunCycle(ctx)
	second := f.daemon.RunCycle(ctx)
	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestKillSessionHappyPath(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)
	ctx := context.Background()
	f.daemon.RunCycle(ctx)

	err := f.daemon.KillSession(ctx, "alpha:work", "alpha:work")
	require.NoError(t, err)

	calls := f.mocks["alpha"].Calls()
	assert.Contains(t, calls, "tmux kill-session -t 'work'")
}

func TestKillSessionUnknownID(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)
	ctx := context.Background()
	f.daemon.RunCycle(ctx)

	err := f.daemon.KillSession(ctx, "alpha:ghost", "alpha:ghost")
	assert.True(t, errors.Is(err, ErrUnknownSession))
}

func TestKillSessionConfirmMismatch(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)
	ctx := context.Background()
	f.daemon.RunCycle(ctx)

	err := f.daemon.KillSession(ctx, "alpha:work", "alpha:other")
	assert.True(t, errors.Is(err, ErrConfirmMismatch))

	for _, call := range f.mocks["alpha"].Calls() {
		assert.NotContains(t, call, "kill-session")
	}
}

func TestKillSessionBeforeFirstCycle(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)

	err := f.daemon.KillSession(context.Background(), "alpha:work", "alpha:work")
	assert.True(t, errors.Is(err, ErrUnknownSession))
}

func TestRefreshIsNonBlocking(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)

	// No Run loop is draining the channel; repeated calls must not block.
	for i := 0; i < 5; i++ {
		f.daemon.Refresh()
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx) }()

	// Wait for the initial cycle before cancelling.
	require.Eventually(t, func() bool {
		return f.hub.Current() != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRefreshTriggersCycle(t *testing.T) {
	f := newFixture(t, testHosts("alpha"), nil)
	f.daemon.cfg.PollingInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.daemon.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.hub.Current() != nil
	}, 2*time.Second, 10*time.Millisecond)
	seq := f.hub.Current().Snapshot.Seq

	f.daemon.Refresh()
	require.Eventually(t, func() bool {
		return f.hub.Current().Snapshot.Seq > seq
	}, 2*time.Second, 10*time.Millisecond)
}
