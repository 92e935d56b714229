package sshutil

import (
	"sync"
	"time"
)

// DialFunc creates a connection to a host. Tests swap this for a mock.
type DialFunc func(host string) (SSHClient, error)

// Pool manages SSH connections for reuse between poll cycles. It keeps
// connections alive to avoid the overhead of reconnecting on each cycle.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*poolEntry
	dial        DialFunc
}

// poolEntry holds a connection and its metadata.
type poolEntry struct {
	client   SSHClient
	lastUsed time.Time
}

// NewPool creates a connection pool that dials with the given options.
func NewPool(opts Options) *Pool {
	return &Pool{
		connections: make(map[string]*poolEntry),
		dial: func(host string) (SSHClient, error) {
			return Dial(host, opts)
		},
	}
}

// NewPoolWithDialer creates a pool with a custom dial function.
func NewPoolWithDialer(dial DialFunc) *Pool {
	return &Pool{
		connections: make(map[string]*poolEntry),
		dial:        dial,
	}
}

// Get retrieves an existing connection for the given host, or creates a new
// one. If the cached connection is dead it is replaced with a fresh one.
func (p *Pool) Get(host string) (SSHClient, error) {
	p.mu.Lock()
	entry, exists := p.connections[host]
	p.mu.Unlock()

	if exists && entry.client != nil {
		if isAlive(entry.client) {
			p.mu.Lock()
			entry.lastUsed = time.Now()
			p.mu.Unlock()
			return entry.client, nil
		}
		p.remove(host)
	}

	client, err := p.dial(host)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.connections[host] = &poolEntry{
		client:   client,
		lastUsed: time.Now(),
	}
	p.mu.Unlock()

	return client, nil
}

// CloseOne closes and removes a specific connection from the pool.
// Call this after a timed-out command left the connection unusable.
func (p *Pool) CloseOne(host string) {
	p.remove(host)
}

// Close closes all connections in the pool and clears it.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for host, entry := range p.connections {
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, host)
	}
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// remove closes and removes a connection from the pool.
func (p *Pool) remove(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[host]; ok {
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, host)
	}
}

// isAlive checks if a connection is still usable by opening a session.
func isAlive(client SSHClient) bool {
	if client == nil {
		return false
	}
	session, err := client.NewSession()
	if err != nil {
		return false
	}
	_ = session.Close()
	return true
}
