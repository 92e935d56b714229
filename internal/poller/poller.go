// Package poller runs the fixed probe commands against every configured host
// over SSH, one host per goroutine, and reports raw per-probe output for the
// snapshot builder to parse.
package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/config"
	"fleetwatch/internal/errors"
	"fleetwatch/internal/logger"
	"fleetwatch/pkg/sshutil"
)

// RawResult is everything collected from one host in one cycle.
type RawResult struct {
	Host      config.Host
	Collected time.Time

	// Unreachable is set when no SSH connection could be established.
	// Outputs and Failed are empty in that case.
	Unreachable error

	// Outputs holds stdout per successful probe.
	Outputs map[Group]string

	// Failed holds a failure description per probe that ran but did not
	// produce usable output.
	Failed map[Group]string
}

// GroupOK reports whether the probe ran and produced output. Value receiver
// so it can be called on map index values.
func (r RawResult) GroupOK(g Group) bool {
	if r.Unreachable != nil {
		return false
	}
	_, ok := r.Outputs[g]
	return ok
}

// Poller executes poll cycles over a shared connection pool.
type Poller struct {
	pool           *sshutil.Pool
	commandTimeout time.Duration
	concurrency    int
	log            logger.Logger
}

// New creates a poller. concurrency caps simultaneous hosts; 0 means no cap.
func New(pool *sshutil.Pool, commandTimeout time.Duration, concurrency int, log logger.Logger) *Poller {
	if commandTimeout == 0 {
		commandTimeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Poller{
		pool:           pool,
		commandTimeout: commandTimeout,
		concurrency:    concurrency,
		log:            log,
	}
}

// Poll probes all hosts concurrently and returns results keyed by host name.
// Individual host failures never fail the cycle; they surface as Unreachable
// or Failed entries in the result.
func (p *Poller) Poll(ctx context.Context, hosts []config.Host) map[string]RawResult {
	results := make([]RawResult, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}

	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			results[i] = p.pollHost(gctx, host)
			return nil
		})
	}
	_ = g.Wait()

	byName := make(map[string]RawResult, len(results))
	for _, r := range results {
		byName[r.Host.Name] = r
	}
	return byName
}

// pollHost runs every probe for one host over a pooled connection.
func (p *Poller) pollHost(ctx context.Context, host config.Host) RawResult {
	result := RawResult{
		Host:      host,
		Collected: time.Now().UTC(),
		Outputs:   make(map[Group]string),
		Failed:    make(map[Group]string),
	}

	target := host.SSHTarget()
	client, err := p.pool.Get(target)
	if err != nil {
		p.log.Warn("host %s unreachable: %v", host.Name, err)
		result.Unreachable = err
		return result
	}

	for _, pr := range probesFor(host.HasGPU) {
		if ctx.Err() != nil {
			result.Failed[pr.group] = ctx.Err().Error()
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
		stdout, stderr, exitCode, err := client.ExecContext(cctx, pr.cmd)
		cancel()

		if err != nil {
			result.Failed[pr.group] = err.Error()
			// The connection may be wedged after a timeout; drop it
			// and reconnect for the remaining probes.
			p.pool.CloseOne(target)
			client, err = p.pool.Get(target)
			if err != nil {
				p.log.Warn("host %s: reconnect failed mid-cycle: %v", host.Name, err)
				for _, rest := range probesFor(host.HasGPU) {
					if !result.GroupOK(rest.group) && result.Failed[rest.group] == "" {
						result.Failed[rest.group] = err.Error()
					}
				}
				break
			}
			continue
		}

		if exitCode != 0 {
			detail := strings.TrimSpace(string(stderr))
			if detail == "" {
				detail = fmt.Sprintf("exit status %d", exitCode)
			}
			result.Failed[pr.group] = detail
			p.log.Debug("host %s: probe %s failed: %s", host.Name, pr.group, detail)
			continue
		}

		result.Outputs[pr.group] = string(stdout)
	}

	return result
}

// KillSession terminates a tmux session on a host. A non-zero tmux exit
// (e.g. the session is already gone) is returned as an error.
func (p *Poller) KillSession(ctx context.Context, host config.Host, session string) error {
	target := host.SSHTarget()
	client, err := p.pool.Get(target)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't reach host '%s' to kill session '%s'", host.Name, session),
			"The host may be offline.")
	}

	cctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()

	_, stderr, exitCode, err := client.ExecContext(cctx, killSessionCommand(session))
	if err != nil {
		p.pool.CloseOne(target)
		return err
	}
	if exitCode != 0 {
		detail := strings.TrimSpace(string(stderr))
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", exitCode)
		}
		return errors.New(errors.ErrSSH,
			fmt.Sprintf("tmux kill-session failed on '%s': %s", host.Name, detail),
			"The session may have already exited.")
	}

	p.log.Info("killed session '%s' on host %s", session, host.Name)
	return nil
}

// Close releases all pooled connections.
func (p *Poller) Close() {
	p.pool.Close()
}
