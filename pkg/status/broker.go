// Package status fans watch events out to subscribers without ever blocking
// the producer.
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/thread-watcher/pkg/models"
)

// DefaultBuffer is the per-subscriber channel size used when none is given.
const DefaultBuffer = 64

// EventKind tags an Event.
type EventKind int

const (
	EventWatchAdded EventKind = iota
	EventWatchRemoved
	EventCycleStarted
	EventPageFetched
	EventResourceDone
	EventCycleFinished
	EventWaitUntil
	EventStopped
)

var eventKindNames = [...]string{
	EventWatchAdded:    "watch_added",
	EventWatchRemoved:  "watch_removed",
	EventCycleStarted:  "cycle_started",
	EventPageFetched:   "page_fetched",
	EventResourceDone:  "resource_done",
	EventCycleFinished: "cycle_finished",
	EventWaitUntil:     "wait_until",
	EventStopped:       "stopped",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is one status update about a watch. Fields not relevant to Kind are zero.
type Event struct {
	Kind       EventKind
	WatchID    string
	Time       time.Time
	URL        string
	Status     models.ResourceStatus
	Bytes      int64
	Counts     models.ResourceCounts
	NextCheck  time.Time
	StopReason models.StopReason
	Message    string
}

// Subscription receives events on C until it is cancelled or the broker closes.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	broker  *Broker
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Cancel unsubscribes and closes C.
func (s *Subscription) Cancel() { s.broker.Unsubscribe(s) }

// Broker distributes events to every subscriber. When a subscriber's buffer
// is full the oldest queued event is discarded to make room.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	log    *logrus.Entry
}

// NewBroker creates a Broker whose subscribers get buffer-sized channels.
func NewBroker(buffer int, log *logrus.Entry) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{subs: make(map[*Subscription]struct{}), buffer: buffer, log: log}
}

// Subscribe registers a new subscriber. After Close the returned
// subscription's channel is already closed.
func (b *Broker) Subscribe() *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers e to every subscriber without blocking.
func (b *Broker) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}
		// Full. Only publishers fill the channel and they hold b.mu, so
		// removing one event always makes room.
		select {
		case <-s.ch:
			if s.dropped.Add(1) == 1 {
				b.log.Warn("Status subscriber too slow, dropping oldest events")
			}
		default:
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
