package pool

import (
	"context"
	"sync"
	"time"
)

// waitlist is a condition variable over the pool mutex. Each waiter parks on
// its own buffered channel, which lets a wait also select on a deadline and
// on the caller's context.
//
// All methods must be called with the owning mutex held.
type waitlist struct {
	waiters []chan struct{}
}

func (w *waitlist) len() int { return len(w.waiters) }

// signal wakes the longest waiting goroutine, if any.
func (w *waitlist) signal() {
	if len(w.waiters) == 0 {
		return
	}
	ch := w.waiters[0]
	w.waiters[0] = nil
	w.waiters = w.waiters[1:]
	ch <- struct{}{}
}

// broadcast wakes every waiter.
func (w *waitlist) broadcast() {
	for _, ch := range w.waiters {
		ch <- struct{}{}
	}
	w.waiters = nil
}

func (w *waitlist) remove(ch chan struct{}) bool {
	for i, c := range w.waiters {
		if c == ch {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// wait releases mu, blocks until signalled, the deadline passes, ctx is done
// or closed is closed, then reacquires mu. It reports whether the waiter was
// signalled. A signal that races with a timeout is passed on to the next
// waiter so it is never lost.
func (w *waitlist) wait(ctx context.Context, mu *sync.Mutex, deadline time.Time, closed <-chan struct{}) bool {
	ch := make(chan struct{}, 1)
	w.waiters = append(w.waiters, ch)
	mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	signalled := false
	select {
	case <-ch:
		signalled = true
	case <-timer.C:
	case <-ctx.Done():
	case <-closed:
	}
	timer.Stop()

	mu.Lock()
	if !signalled && !w.remove(ch) {
		// Dequeued by a signal after we stopped waiting: hand it on.
		<-ch
		w.signal()
	}
	return signalled
}

// sleep is the polling fallback: it releases mu for at most interval.
func sleep(ctx context.Context, mu *sync.Mutex, interval time.Duration, deadline time.Time, closed <-chan struct{}) {
	if rest := time.Until(deadline); rest < interval {
		interval = rest
	}
	mu.Unlock()
	timer := time.NewTimer(interval)
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-closed:
	}
	timer.Stop()
	mu.Lock()
}
