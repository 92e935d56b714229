// Package daemon drives the poll cycle: poller fan-out, snapshot assembly,
// alert evaluation, history persistence, and publication to the distributor.
// It is the single writer of shared state; everything else reads.
package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/config"
	"fleetwatch/internal/distributor"
	"fleetwatch/internal/errors"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/history"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/poller"
	"fleetwatch/internal/snapshot"
)

// Sentinel causes for rejected kill requests, wrapped in structured errors so
// callers can distinguish them with errors.Is.
var (
	ErrUnknownSession  = stderrors.New("unknown session")
	ErrConfirmMismatch = stderrors.New("confirmation token does not match session id")
	ErrHostOffline     = stderrors.New("host is offline")
)

// Daemon owns one poll pipeline.
type Daemon struct {
	cfg     *config.Config
	poller  *poller.Poller
	builder *snapshot.Builder
	engine  *alerts.Engine
	store   history.Store
	hub     *distributor.Hub
	log     logger.Logger

	started   time.Time
	refreshCh chan struct{}
}

// New wires a daemon from its parts.
func New(cfg *config.Config, p *poller.Poller, engine *alerts.Engine, store history.Store, hub *distributor.Hub, log logger.Logger) *Daemon {
	if log == nil {
		log = logger.Noop()
	}
	return &Daemon{
		cfg:       cfg,
		poller:    p,
		builder:   snapshot.NewBuilder(cfg.LegacyThreshold, log),
		engine:    engine,
		store:     store,
		hub:       hub,
		log:       log,
		started:   time.Now().UTC(),
		refreshCh: make(chan struct{}, 1),
	}
}

// Started returns when the daemon was constructed, for uptime reporting.
func (d *Daemon) Started() time.Time {
	return d.started
}

// Run polls immediately, then on every tick until the context is cancelled.
// Cycles run inline on this goroutine, so they can never overlap; if a cycle
// overruns the interval, the tick that fired meanwhile is discarded rather
// than queued, bounding concurrent SSH load.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("polling %d hosts every %s", len(d.cfg.Hosts), d.cfg.PollingInterval)

	d.RunCycle(ctx)

	ticker := time.NewTicker(d.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.poller.Close()
			return ctx.Err()
		case <-ticker.C:
			d.RunCycle(ctx)
			drainTick(ticker)
		case <-d.refreshCh:
			d.RunCycle(ctx)
			drainTick(ticker)
		}
	}
}

// drainTick discards a tick that fired while a cycle was running.
func drainTick(t *time.Ticker) {
	select {
	case <-t.C:
	default:
	}
}

// RunCycle executes one full poll cycle and returns the published snapshot.
// Nothing in a cycle is fatal: host failures surface in the snapshot and
// history write failures are logged and dropped.
func (d *Daemon) RunCycle(ctx context.Context) *fleet.Snapshot {
	start := time.Now()

	results := d.poller.Poll(ctx, d.cfg.Hosts)
	snap := d.builder.Build(d.cfg.Hosts, results, time.Now().UTC())
	events := d.engine.Evaluate(snap)

	// Swap state first, then deliver the per-alert events, so a subscriber
	// that sees an alert event can already resolve it against the new
	// snapshot.
	d.hub.Publish(&distributor.State{
		Snapshot: snap,
		Alerts:   d.engine.Active(false),
	})
	d.hub.PublishAlertEvents(events)

	if err := d.store.SaveSnapshot(ctx, snap); err != nil {
		d.log.Warn("history: snapshot write failed: %v", err)
	}
	if err := d.store.SaveEvents(ctx, events); err != nil {
		d.log.Warn("history: transition write failed: %v", err)
	}

	d.log.Debug("cycle %d done in %s (%d hosts, %d sessions, %d alert events)",
		snap.Seq, time.Since(start).Round(time.Millisecond), len(snap.Hosts), snap.SessionCount(), len(events))
	return snap
}

// Refresh requests an immediate out-of-schedule cycle. Non-blocking; if a
// refresh is already pending this is a no-op.
func (d *Daemon) Refresh() {
	select {
	case d.refreshCh <- struct{}{}:
	default:
	}
}

// KillSession terminates a tmux session identified by its fleet-wide id
// ("host:name"). The session must exist in the current snapshot, its host
// must be reachable, and confirm must equal the session id. The kill runs
// immediately; the snapshot reflects it on the next cycle.
func (d *Daemon) KillSession(ctx context.Context, id, confirm string) error {
	state := d.hub.Current()
	if state == nil || state.Snapshot.FindSession(id) == nil {
		return errors.WrapWithCode(ErrUnknownSession, errors.ErrRequest,
			fmt.Sprintf("No session '%s' in the current snapshot", id),
			"List sessions first; the session may have already exited.")
	}

	if confirm != id {
		return errors.WrapWithCode(ErrConfirmMismatch, errors.ErrRequest,
			fmt.Sprintf("Confirmation token does not match session id '%s'", id),
			"Pass the exact session id as the confirmation token.")
	}

	sess := state.Snapshot.FindSession(id)
	host, ok := d.findHost(sess.Host)
	if !ok {
		return errors.WrapWithCode(ErrUnknownSession, errors.ErrRequest,
			fmt.Sprintf("Host '%s' is not configured", sess.Host), "")
	}

	if h := state.Snapshot.FindHost(sess.Host); h != nil && h.Status == fleet.HostOffline {
		return errors.WrapWithCode(ErrHostOffline, errors.ErrRequest,
			fmt.Sprintf("Host '%s' is offline", sess.Host),
			"Wait for the host to come back before killing sessions.")
	}

	return d.poller.KillSession(ctx, host, sess.Name)
}

func (d *Daemon) findHost(name string) (config.Host, bool) {
	for _, h := range d.cfg.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return config.Host{}, false
}
