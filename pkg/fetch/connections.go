package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/thread-watcher/pkg/concurrency"
)

// DefaultMaxConnectionsPerHost caps concurrent connection groups per host.
const DefaultMaxConnectionsPerHost = 4

// ConnectionGroup is one reusable connection identity for a host. It owns its
// transport; requests made through Client share that transport's connections.
type ConnectionGroup struct {
	ID        string
	Transport http.RoundTripper
	client    *http.Client
	mgr       *ConnectionManager
}

// Client returns the HTTP client bound to this group's transport.
func (g *ConnectionGroup) Client() *http.Client { return g.client }

// ConnectionManager bounds the connection groups checked out for one host.
type ConnectionManager struct {
	host         string
	sem          *concurrency.FairSemaphore
	newTransport TransportFactory
	log          *logrus.Entry

	mu          sync.Mutex
	free        []*ConnectionGroup // stack of recycled groups
	inUse       int
	active      int       // held + waiting callers
	lastRelease time.Time // zero if never released
}

func newConnectionManager(host string, limit int, newTransport TransportFactory, log *logrus.Entry) *ConnectionManager {
	return &ConnectionManager{
		host:         host,
		sem:          concurrency.NewFairSemaphore(limit),
		newTransport: newTransport,
		log:          log.WithField("host", host),
	}
}

// Obtain blocks until a connection group is available or ctx is done.
func (m *ConnectionManager) Obtain(ctx context.Context) (*ConnectionGroup, error) {
	m.reserve()
	return m.acquire(ctx)
}

func (m *ConnectionManager) reserve() {
	m.mu.Lock()
	m.active++
	m.mu.Unlock()
}

func (m *ConnectionManager) acquire(ctx context.Context) (*ConnectionGroup, error) {
	if err := m.sem.AcquireContext(ctx); err != nil {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inUse++
	if n := len(m.free); n > 0 {
		g := m.free[n-1]
		m.free[n-1] = nil
		m.free = m.free[:n-1]
		return g, nil
	}
	return m.mintLocked(), nil
}

// mintLocked creates a fresh group. Callers hold m.mu.
func (m *ConnectionManager) mintLocked() *ConnectionGroup {
	transport := m.newTransport()
	g := &ConnectionGroup{
		ID:        uuid.NewString(),
		Transport: transport,
		client:    newGroupClient(transport, m.log),
		mgr:       m,
	}
	m.log.WithField("group", g.ID).Debug("Minted connection group")
	return g
}

// Release checks a group back in and frees its admission permit.
func (m *ConnectionManager) Release(g *ConnectionGroup) {
	m.mu.Lock()
	m.free = append(m.free, g)
	m.inUse--
	m.active--
	m.lastRelease = time.Now()
	m.mu.Unlock()

	m.sem.Release()
}

// Rotate drops the idle connections of g and returns a fresh group in its
// place. The admission permit stays with the caller, who releases the
// returned group as usual.
func (m *ConnectionManager) Rotate(g *ConnectionGroup) *ConnectionGroup {
	if closer, ok := g.Transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := m.mintLocked()
	m.log.WithFields(logrus.Fields{"old_group": g.ID, "group": fresh.ID}).Debug("Rotated connection group")
	return fresh
}

// InUse returns the number of groups currently checked out.
func (m *ConnectionManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// HostConnections is the registry of per-host connection managers.
// A single registry should be shared by everything talking to the same hosts
// so the per-host cap holds globally.
type HostConnections struct {
	managers     map[string]*ConnectionManager
	mu           sync.Mutex
	limit        int
	newTransport TransportFactory
	log          *logrus.Entry
}

// NewHostConnections creates a registry with the given per-host cap.
func NewHostConnections(maxPerHost int, newTransport TransportFactory, log *logrus.Entry) *HostConnections {
	if maxPerHost <= 0 {
		maxPerHost = DefaultMaxConnectionsPerHost
		log.Warnf("max_connections_per_host invalid or zero, defaulting to %d", maxPerHost)
	}
	if newTransport == nil {
		newTransport = func() http.RoundTripper { return http.DefaultTransport.(*http.Transport).Clone() }
	}
	return &HostConnections{
		managers:     make(map[string]*ConnectionManager),
		limit:        maxPerHost,
		newTransport: newTransport,
		log:          log,
	}
}

// Manager finds or creates the manager for host.
func (h *HostConnections) Manager(host string) *ConnectionManager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.managerLocked(host)
}

func (h *HostConnections) managerLocked(host string) *ConnectionManager {
	m, ok := h.managers[host]
	if !ok {
		m = newConnectionManager(host, h.limit, h.newTransport, h.log)
		h.managers[host] = m
		h.log.WithFields(logrus.Fields{"host": host, "limit": h.limit}).Debug("Created connection manager")
	}
	return m
}

// Obtain checks out a connection group for host. The reservation is taken
// under the registry lock so eviction never drops a manager a caller is about to use.
func (h *HostConnections) Obtain(ctx context.Context, host string) (*ConnectionGroup, error) {
	h.mu.Lock()
	m := h.managerLocked(host)
	m.reserve()
	h.mu.Unlock()

	return m.acquire(ctx)
}

// Release returns g to the manager it came from.
func (h *HostConnections) Release(g *ConnectionGroup) {
	g.mgr.Release(g)
}

// Rotate replaces g with a fresh group from the same manager.
func (h *HostConnections) Rotate(g *ConnectionGroup) *ConnectionGroup {
	return g.mgr.Rotate(g)
}

// RunEviction periodically removes idle host managers. Should be run in a goroutine.
func (h *HostConnections) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.evictIdle(interval)
		case <-ctx.Done():
			h.log.Debugf("Stopping connection manager eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes managers that have been idle longer than maxIdle and
// closes the idle connections of their pooled groups.
func (h *HostConnections) evictIdle(maxIdle time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, m := range h.managers {
		m.mu.Lock()
		idle := m.active == 0 && !m.lastRelease.IsZero() && now.Sub(m.lastRelease) >= maxIdle
		var groups []*ConnectionGroup
		if idle {
			groups = m.free
			m.free = nil
		}
		m.mu.Unlock()
		if !idle {
			continue
		}
		for _, g := range groups {
			if closer, ok := g.Transport.(interface{ CloseIdleConnections() }); ok {
				closer.CloseIdleConnections()
			}
		}
		delete(h.managers, host)
		evicted++
	}
	if evicted > 0 {
		h.log.Debugf("Evicted %d idle connection managers, %d remain", evicted, len(h.managers))
	}
}

// Len returns the current number of tracked hosts.
func (h *HostConnections) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.managers)
}
