// Package dispatch pushes notifications to live recipients under bounded
// concurrency, preserving per-recipient order.
package dispatch

import (
	"context"
	"sync"

	"discuzz/internal/observability"
)

// Limiter bounds in-flight dispatches globally and per recipient. Admission
// is queued, never dropped: a caller waits its turn (FIFO for the global
// slot) and leaves the queue only when its context is cancelled.
type Limiter struct {
	global chan struct{}

	mu       sync.Mutex
	counts   map[uint]int
	waiters  map[uint][]chan struct{}
	perLimit int
}

// NewLimiter creates a Limiter with the given global and per-recipient caps.
func NewLimiter(globalLimit, perRecipientLimit int) *Limiter {
	if globalLimit <= 0 {
		globalLimit = 10000
	}
	if perRecipientLimit <= 0 {
		perRecipientLimit = 5
	}
	return &Limiter{
		global:   make(chan struct{}, globalLimit),
		counts:   make(map[uint]int),
		waiters:  make(map[uint][]chan struct{}),
		perLimit: perRecipientLimit,
	}
}

// Acquire blocks until both a per-recipient and a global slot are available,
// or ctx is done. Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context, recipientID uint) error {
	for {
		l.mu.Lock()
		if l.counts[recipientID] < l.perLimit {
			l.counts[recipientID]++
			l.mu.Unlock()
			break
		}
		wakeup := make(chan struct{})
		l.waiters[recipientID] = append(l.waiters[recipientID], wakeup)
		l.mu.Unlock()

		observability.DispatchQueueWaiters.Inc()
		select {
		case <-wakeup:
			observability.DispatchQueueWaiters.Dec()
		case <-ctx.Done():
			observability.DispatchQueueWaiters.Dec()
			l.abandonWaiter(recipientID, wakeup)
			return ctx.Err()
		}
	}

	observability.DispatchQueueWaiters.Inc()
	select {
	case l.global <- struct{}{}:
		observability.DispatchQueueWaiters.Dec()
		observability.DispatchInFlight.Inc()
		return nil
	case <-ctx.Done():
		observability.DispatchQueueWaiters.Dec()
		l.releaseRecipient(recipientID)
		return ctx.Err()
	}
}

// Release frees the slots taken by a successful Acquire.
func (l *Limiter) Release(recipientID uint) {
	<-l.global
	observability.DispatchInFlight.Dec()
	l.releaseRecipient(recipientID)
}

// InFlight reports the number of currently held global slots.
func (l *Limiter) InFlight() int {
	return len(l.global)
}

func (l *Limiter) releaseRecipient(recipientID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counts[recipientID]--
	if l.counts[recipientID] <= 0 {
		delete(l.counts, recipientID)
	}
	l.signalNextLocked(recipientID)
}

// abandonWaiter removes a cancelled waiter from the queue. If the waiter was
// already signalled, the wakeup is forwarded so the freed slot is not lost.
func (l *Limiter) abandonWaiter(recipientID uint, wakeup chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	queue := l.waiters[recipientID]
	for i, ch := range queue {
		if ch == wakeup {
			l.waiters[recipientID] = append(queue[:i], queue[i+1:]...)
			if len(l.waiters[recipientID]) == 0 {
				delete(l.waiters, recipientID)
			}
			return
		}
	}
	l.signalNextLocked(recipientID)
}

func (l *Limiter) signalNextLocked(recipientID uint) {
	queue := l.waiters[recipientID]
	if len(queue) == 0 {
		return
	}
	next := queue[0]
	l.waiters[recipientID] = queue[1:]
	if len(l.waiters[recipientID]) == 0 {
		delete(l.waiters, recipientID)
	}
	close(next)
}
