package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned by Do once the loop has stopped.
var ErrLoopClosed = errors.New("playback loop closed")

// Loop runs posted functions one at a time on a single goroutine. Session
// and controller state is only touched from inside the loop, so callbacks
// from synthesis goroutines and players must go through Post.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Post enqueues fn and reports whether the loop accepted it. Post never
// blocks, so it is safe to call from inside the loop.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from inside the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// fn may have been dequeued just before close.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes posted functions until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
		}
	}
}

// Close stops accepting work. Queued functions that have not started are
// dropped.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Stopped is closed when Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
