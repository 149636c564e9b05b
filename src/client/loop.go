package client

import (
	"context"
	"sync"
	"time"
)

// Loop serializes everything that touches one shard's protocol state: socket
// messages, timer callbacks, dial results and identify lock results all run as
// tasks on the same goroutine.
type Loop interface {
	Now() time.Time
	// Post queues fn from any goroutine. It reports false once the loop is gone.
	Post(fn func()) bool
	// AfterFunc runs fn on the loop after d. Stopping the timer from the loop
	// guarantees fn will not run, even if it already fired.
	AfterFunc(d time.Duration, fn func()) Timer
	// Async runs work on its own goroutine and the function it returns back on
	// the loop.
	Async(work func() func())
}

// Timer is a scheduled loop task.
type Timer interface {
	Stop()
}

type eventLoop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func newEventLoop(size int) *eventLoop {
	if size <= 0 {
		size = 256
	}
	return &eventLoop{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes queued tasks until ctx is cancelled.
func (l *eventLoop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

func (l *eventLoop) Now() time.Time {
	return time.Now()
}

func (l *eventLoop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost queues fn only if the inbox has room.
func (l *eventLoop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

func (l *eventLoop) Done() <-chan struct{} {
	return l.done
}

func (l *eventLoop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped {
				return
			}
			lt.stopped = true
			fn()
		})
	})
	return lt
}

func (l *eventLoop) Async(work func() func()) {
	go func() {
		if then := work(); then != nil {
			l.Post(then)
		}
	}()
}

// loopTimer.stopped is only read and written on the loop goroutine.
type loopTimer struct {
	t       *time.Timer
	stopped bool
}

func (lt *loopTimer) Stop() {
	lt.stopped = true
	lt.t.Stop()
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
