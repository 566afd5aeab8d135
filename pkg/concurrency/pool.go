package concurrency

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit once the pools have been closed.
var ErrPoolClosed = errors.New("worker pools closed")

// idleCapacity is the upper bound of the idle-checkout semaphore of a group.
const idleCapacity = 1 << 20

// Action is a unit of work run by a pool worker.
type Action func()

// PoolOptions controls how a worker group grows and shrinks.
type PoolOptions struct {
	MinWorkers  int           // Floor of workers kept alive per group
	Threshold   time.Duration // How long a submission waits for an idle worker before starting a new one
	IdleTimeout time.Duration // How long a worker waits for work before asking to exit
}

// DefaultPoolOptions returns the standard floor (4), threshold (500ms) and idle timeout.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{MinWorkers: 4, Threshold: 500 * time.Millisecond, IdleTimeout: 30 * time.Second}
}

// PoolStats is a point-in-time view of one group.
type PoolStats struct {
	Workers int
	Idle    int
}

// Pools is the registry of named worker groups. Groups are created on first
// use and live until Close.
type Pools struct {
	opts   PoolOptions
	log    *logrus.Entry
	mu     sync.Mutex
	groups map[string]*poolGroup
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type poolGroup struct {
	name    string
	pools   *Pools
	log     *logrus.Entry
	idleSem *FairSemaphore // one permit per unclaimed entry of idle
	mu      sync.Mutex
	idle    []*poolWorker // stack, most recently checked-in last
	total   int
}

type poolWorker struct {
	queue chan Action
}

// NewPools creates an empty registry. Zero option values fall back to the defaults.
func NewPools(opts PoolOptions, log *logrus.Entry) *Pools {
	def := DefaultPoolOptions()
	if opts.MinWorkers <= 0 {
		opts.MinWorkers = def.MinWorkers
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	return &Pools{
		opts:   opts,
		log:    log,
		groups: make(map[string]*poolGroup),
		done:   make(chan struct{}),
	}
}

// Submit runs action on a worker of the named group. It first tries to check
// out an idle worker within the threshold; when none frees up in time a new
// worker is started for the action.
func (p *Pools) Submit(group string, action Action) error {
	if action == nil {
		return fmt.Errorf("submit to group '%s': nil action", group)
	}
	g, err := p.group(group)
	if err != nil {
		return err
	}

	if g.idleSem.Acquire(p.opts.Threshold) {
		g.mu.Lock()
		n := len(g.idle)
		w := g.idle[n-1]
		g.idle[n-1] = nil
		g.idle = g.idle[:n-1]
		g.mu.Unlock()
		w.queue <- action
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	g.log.Debug("No idle worker within threshold, starting a new one")
	g.spawn(action)
	return nil
}

// Stats reports the worker and idle counts of a group. Unknown groups report zeros.
func (p *Pools) Stats(group string) PoolStats {
	p.mu.Lock()
	g, ok := p.groups[group]
	p.mu.Unlock()
	if !ok {
		return PoolStats{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return PoolStats{Workers: g.total, Idle: len(g.idle)}
}

// Close stops every worker after its current action and waits for them.
// Safe to call more than once.
func (p *Pools) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debug("Worker pools closed")
}

// group finds or creates a group, prestarting its floor of workers.
func (p *Pools) group(name string) (*poolGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if g, ok := p.groups[name]; ok {
		return g, nil
	}

	g := &poolGroup{
		name:    name,
		pools:   p,
		log:     p.log.WithField("group", name),
		idleSem: NewFairSemaphoreWithCount(idleCapacity, 0),
	}
	for i := 0; i < p.opts.MinWorkers; i++ {
		w := g.newWorker()
		g.idle = append(g.idle, w)
		g.idleSem.Release()
		p.wg.Add(1)
		go g.run(w, nil)
	}
	p.groups[name] = g
	g.log.WithField("workers", p.opts.MinWorkers).Debug("Created worker group")
	return g, nil
}

func (g *poolGroup) newWorker() *poolWorker {
	g.mu.Lock()
	g.total++
	g.mu.Unlock()
	return &poolWorker{queue: make(chan Action, 1)}
}

// spawn starts an extra worker whose first job is action. Callers hold p.mu.
func (g *poolGroup) spawn(action Action) {
	w := g.newWorker()
	g.pools.wg.Add(1)
	go g.run(w, action)
}

func (g *poolGroup) run(w *poolWorker, first Action) {
	defer g.pools.wg.Done()

	if first != nil {
		g.execute(first)
		g.checkIn(w)
	}

	timer := time.NewTimer(g.pools.opts.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case action := <-w.queue:
			g.execute(action)
			g.checkIn(w)
			timer.Reset(g.pools.opts.IdleTimeout)
		case <-timer.C:
			if g.mayExit(w) {
				g.log.Debug("Idle worker exiting")
				return
			}
			timer.Reset(g.pools.opts.IdleTimeout)
		case <-g.pools.done:
			return
		}
	}
}

func (g *poolGroup) execute(action Action) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorf("PANIC in pool action: %v\n%s", r, string(debug.Stack()))
		}
	}()
	action()
}

func (g *poolGroup) checkIn(w *poolWorker) {
	g.mu.Lock()
	g.idle = append(g.idle, w)
	g.mu.Unlock()
	g.idleSem.Release()
}

// mayExit lets an idle worker above the floor leave the group. The worker must
// have nothing queued and an idle permit must be reclaimable, so a pending
// checkout is never left without an entry on the stack.
func (g *poolGroup) mayExit(w *poolWorker) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(w.queue) > 0 || g.total <= g.pools.opts.MinWorkers {
		return false
	}
	if !g.idleSem.TryAcquire() {
		return false
	}
	for i, candidate := range g.idle {
		if candidate == w {
			copy(g.idle[i:], g.idle[i+1:])
			g.idle[len(g.idle)-1] = nil
			g.idle = g.idle[:len(g.idle)-1]
			g.total--
			return true
		}
	}
	// Already claimed by a submitter; its action is on the way
	g.idleSem.Release()
	return false
}
