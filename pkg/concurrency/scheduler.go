package concurrency

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrItemStarted is returned by Reschedule once the item has been dispatched.
var ErrItemStarted = errors.New("scheduled item already started")

// Submitter runs an action on a named worker group. *Pools satisfies it.
type Submitter interface {
	Submit(group string, action Action) error
}

type handleState int

const (
	statePending handleState = iota
	stateStarted
	stateCancelled
)

// Handle identifies one scheduled item. It stays the same across reschedules.
type Handle struct {
	due    time.Time
	action Action
	group  string
	seq    uint64
	index  int // Position in the heap, -1 when not queued
	state  handleState
}

// Group returns the pool group the item is dispatched to.
func (h *Handle) Group() string { return h.group }

// --- Due-time ordered heap ---

type itemHeap []*Handle

func (q itemHeap) Len() int { return len(q) }

func (q itemHeap) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq // Insertion order breaks ties
	}
	return q[i].due.Before(q[j].due)
}

func (q itemHeap) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *itemHeap) Push(x any) {
	item := x.(*Handle)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *itemHeap) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[0 : n-1]
	return item
}

// Scheduler dispatches actions to worker groups when their due time arrives.
// A single loop goroutine sleeps until the earliest due time or a schedule
// change. It exits after idleTimeout with nothing queued and is started again
// by the next Schedule.
type Scheduler struct {
	submit      Submitter
	idleTimeout time.Duration
	log         *logrus.Entry

	mu      sync.Mutex
	items   itemHeap
	seq     uint64
	running bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewScheduler creates a scheduler that hands due items to submit.
func NewScheduler(submit Submitter, idleTimeout time.Duration, log *logrus.Entry) *Scheduler {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	s := &Scheduler{
		submit:      submit,
		idleTimeout: idleTimeout,
		log:         log,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	heap.Init(&s.items)
	return s
}

// Schedule queues action to run on group at due.
// After Close the returned handle is already cancelled.
func (s *Scheduler) Schedule(due time.Time, action Action, group string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	h := &Handle{due: due, action: action, group: group, seq: s.seq, index: -1}
	if s.closed {
		h.state = stateCancelled
		s.log.WithField("group", group).Warn("Schedule called on closed scheduler")
		return h
	}
	heap.Push(&s.items, h)
	s.changedLocked()
	return h
}

// Cancel removes a pending item. It reports false if the item already started
// or was cancelled before.
func (s *Scheduler) Cancel(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h == nil || h.state != statePending {
		return false
	}
	heap.Remove(&s.items, h.index)
	h.state = stateCancelled
	s.changedLocked()
	return true
}

// Reschedule moves a pending or cancelled item to a new due time.
func (s *Scheduler) Reschedule(h *Handle, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch h.state {
	case stateStarted:
		return ErrItemStarted
	case stateCancelled:
		if s.closed {
			return ErrPoolClosed
		}
		h.due = due
		h.state = statePending
		heap.Push(&s.items, h)
	default:
		h.due = due
		heap.Fix(&s.items, h.index)
	}
	s.changedLocked()
	return nil
}

// Pending returns the number of queued items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Running reports whether the loop goroutine is alive.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close drops all pending items and stops the loop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, h := range s.items {
		h.state = stateCancelled
		h.index = -1
	}
	s.items = nil
	close(s.done)
}

// changedLocked wakes the loop, starting it if needed. Callers hold s.mu.
func (s *Scheduler) changedLocked() {
	if !s.running {
		if len(s.items) == 0 {
			return
		}
		s.running = true
		go s.loop()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	s.log.Debug("Scheduler loop started")
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()
	idleExpired := false

	for {
		s.mu.Lock()
		if s.closed {
			s.running = false
			s.mu.Unlock()
			return
		}

		now := time.Now()
		var due []*Handle
		for len(s.items) > 0 && !s.items[0].due.After(now) {
			h := heap.Pop(&s.items).(*Handle)
			h.state = stateStarted
			due = append(due, h)
		}

		var wait time.Duration
		if len(s.items) > 0 {
			wait = s.items[0].due.Sub(now)
		} else {
			if idleExpired && len(due) == 0 {
				s.running = false
				s.mu.Unlock()
				s.log.Debug("Scheduler loop idle, exiting")
				return
			}
			wait = s.idleTimeout
		}
		emptyWait := len(s.items) == 0
		s.mu.Unlock()

		for _, h := range due {
			if err := s.submit.Submit(h.group, h.action); err != nil {
				s.log.WithField("group", h.group).Errorf("Failed to dispatch scheduled item: %v", err)
			}
		}

		timer.Reset(wait)
		idleExpired = false
		select {
		case <-timer.C:
			idleExpired = emptyWait
		case <-s.wake:
		case <-s.done:
		}
	}
}
