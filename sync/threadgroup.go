package sync

import (
	"errors"
	"sync"
)

// ErrStopped is returned by ThreadGroup methods after Stop has been called.
var ErrStopped = errors.New("ThreadGroup already stopped")

// A ThreadGroup coordinates the shutdown of a module's background threads.
// Threads bracket their work with Add/Done and select on StopChan to learn
// about shutdown. Resources that must be torn down during shutdown register
// a closer with BeforeStop (runs before waiting for threads, e.g. closing a
// listener to unblock Accept) or AfterStop (runs once every thread has
// drained, e.g. closing a database).
//
// A ThreadGroup is single-use: Add and Stop return ErrStopped once Stop has
// run. The zero value is ready to use.
type ThreadGroup struct {
	beforeStopFns []func()
	afterStopFns  []func()

	chanOnce sync.Once
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// StopChan returns a channel that is closed when Stop is called. The zero
// value initializes its channel lazily here, so no constructor is needed.
func (tg *ThreadGroup) StopChan() <-chan struct{} {
	tg.chanOnce.Do(func() { tg.stopChan = make(chan struct{}) })
	return tg.stopChan
}

// isStopped reports whether Stop has been called.
func (tg *ThreadGroup) isStopped() bool {
	select {
	case <-tg.StopChan():
		return true
	default:
		return false
	}
}

// Add registers a thread with the group. Every successful Add must be paired
// with a Done.
func (tg *ThreadGroup) Add() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.isStopped() {
		return ErrStopped
	}
	tg.wg.Add(1)
	return nil
}

// Done deregisters a thread from the group.
func (tg *ThreadGroup) Done() {
	tg.wg.Done()
}

// BeforeStop registers fn to run when Stop is called, before waiting for
// threads to drain. If the group is already stopped, fn runs immediately.
func (tg *ThreadGroup) BeforeStop(fn func()) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.isStopped() {
		fn()
		return
	}
	tg.beforeStopFns = append(tg.beforeStopFns, fn)
}

// AfterStop registers fn to run during Stop, after every thread has drained.
// If the group is already stopped, fn runs immediately.
func (tg *ThreadGroup) AfterStop(fn func()) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.isStopped() {
		fn()
		return
	}
	tg.afterStopFns = append(tg.afterStopFns, fn)
}

// Stop closes the stop channel, runs the BeforeStop closers, waits for every
// registered thread to call Done, and then runs the AfterStop closers.
// Closers run in reverse registration order, so resources close in the
// opposite order of their setup.
func (tg *ThreadGroup) Stop() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.isStopped() {
		return ErrStopped
	}
	close(tg.stopChan)
	for i := len(tg.beforeStopFns) - 1; i >= 0; i-- {
		tg.beforeStopFns[i]()
	}

	tg.wg.Wait()

	for i := len(tg.afterStopFns) - 1; i >= 0; i-- {
		tg.afterStopFns[i]()
	}
	tg.afterStopFns = nil
	return nil
}
