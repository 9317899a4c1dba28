package sync

import (
	"sync"
)

// A Limiter hands out a bounded number of units of a resource, blocking
// callers until their request can be satisfied. The coordinator uses one to
// cap how many miner long-polls may park concurrently.
type Limiter struct {
	limit int
	inUse int
	turn  chan struct{}
	cond  *sync.Cond
}

// NewLimiter returns a Limiter holding limit units.
func NewLimiter(limit int) *Limiter {
	l := &Limiter{
		limit: limit,
		turn:  make(chan struct{}, 1),
		cond:  sync.NewCond(new(sync.Mutex)),
	}
	l.turn <- struct{}{}
	return l
}

// Request blocks until n units are available or cancel is closed, and reports
// whether the request was canceled. A successful Request must be paired with
// a Release of the same n.
//
// Requests are served strictly in arrival order, so small requests cannot
// starve large ones. As a special case, n may exceed the limit: such a
// request is granted once every outstanding unit has been released.
func (l *Limiter) Request(n int, cancel <-chan struct{}) bool {
	// Take the turn token so only one request waits on the condition at a
	// time; this is what makes admission order-fair.
	select {
	case <-cancel:
		return true
	case token := <-l.turn:
		defer func() { l.turn <- token }()
	}

	// Forward a cancellation into a condition wakeup.
	var cancelled bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-cancel:
			l.cond.L.Lock()
			cancelled = true
			l.cond.L.Unlock()
			l.cond.Signal()
		case <-done:
		}
	}()

	l.cond.L.Lock()
	for l.inUse+n > l.limit && l.inUse != 0 && !cancelled {
		l.cond.Wait()
	}
	defer l.cond.L.Unlock()
	if !cancelled {
		l.inUse += n
	}
	return cancelled
}

// Release returns n units, waking the next blocked Request. Releasing more
// units than were requested is a logic error and panics.
func (l *Limiter) Release(n int) {
	l.cond.L.Lock()
	l.inUse -= n
	if l.inUse < 0 {
		panic("units released exceeds units requested")
	}
	l.cond.L.Unlock()
	l.cond.Signal()
}

// SetLimit changes the limit. It may be called between a Request/Release
// pair; raising the limit wakes a blocked Request.
func (l *Limiter) SetLimit(limit int) {
	l.cond.L.Lock()
	l.limit = limit
	l.cond.L.Unlock()
	l.cond.Signal()
}
