package util

import (
	"runtime/debug"
	"sync"
)

// Executor runs posted funcs one at a time, in order, on its own goroutine.
// The queue is unbounded so tasks may post further tasks without blocking.
type Executor struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	onPanic func(r any, stack []byte)
}

// NewExecutor starts the goroutine. onPanic, when set, receives a task's
// panic; the executor keeps running either way.
func NewExecutor(onPanic func(r any, stack []byte)) *Executor {
	e := &Executor{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	go e.run()
	return e
}

// Post enqueues fn. It returns false once the executor has been stopped.
func (e *Executor) Post(fn func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	e.signal()
	return true
}

// Stop rejects further posts; queued tasks still run.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.signal()
}

// Done is closed when the goroutine exits after Stop.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Sync blocks until every task posted before the call has run. It
// returns false when the executor is stopped.
func (e *Executor) Sync() bool {
	ch := make(chan struct{})
	if !e.Post(func() { close(ch) }) {
		return false
	}
	<-ch
	return true
}

// Run calls fn on the caller's goroutine with the executor's panic guard.
func (e *Executor) Run(fn func()) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r, debug.Stack())
		}
	}()
	fn()
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			stopped := e.stopped
			e.mu.Unlock()
			if stopped {
				return
			}
			<-e.wake
			continue
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.Run(fn)
	}
}
