package concurrency

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// FairSemaphore is a counting gate that grants permits in strict arrival order.
// A free permit is handed out immediately only while nobody is queued; once
// callers are waiting, each Release serves the longest waiting one first.
// Waiters that give up (timeout or cancelled context) leave the queue without
// consuming a permit.
type FairSemaphore struct {
	sem *semaphore.Weighted
	max int64
}

// NewFairSemaphore creates a semaphore with max permits, all initially free.
func NewFairSemaphore(max int) *FairSemaphore {
	if max <= 0 {
		max = 1
	}
	return &FairSemaphore{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// NewFairSemaphoreWithCount creates a semaphore with max permits of which only
// initial are free. The rest become available as they are released.
func NewFairSemaphoreWithCount(max, initial int) *FairSemaphore {
	s := NewFairSemaphore(max)
	if initial < 0 {
		initial = 0
	}
	if held := s.max - int64(initial); held > 0 {
		s.sem.TryAcquire(held)
	}
	return s
}

// Acquire waits up to timeout for a permit. A negative timeout waits forever.
func (s *FairSemaphore) Acquire(timeout time.Duration) bool {
	if timeout < 0 {
		return s.AcquireContext(context.Background()) == nil
	}
	if timeout == 0 {
		return s.TryAcquire()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.AcquireContext(ctx) == nil
}

// AcquireContext blocks until a permit is granted or ctx is done.
func (s *FairSemaphore) AcquireContext(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// TryAcquire takes a permit only if one is free and nobody is queued.
func (s *FairSemaphore) TryAcquire() bool {
	return s.sem.TryAcquire(1)
}

// Release returns one permit. Releasing more permits than are held panics.
func (s *FairSemaphore) Release() {
	s.sem.Release(1)
}

// Max returns the permit capacity.
func (s *FairSemaphore) Max() int {
	return int(s.max)
}
