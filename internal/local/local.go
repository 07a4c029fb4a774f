// File: internal/local/local.go
package local

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"
)

var (
	// Returned when a pending unit of work is awaited from a thread other than the one that created it
	ErrForeignThread = errors.New("pending work awaited outside the thread that issued it")
	// Returned when an operation loses the race against its timeout
	ErrTimeout = errors.New("operation timed out")
	// Returned when a pending unit of work is awaited twice
	ErrAwaited = errors.New("pending work already awaited")
)

var threadIDs atomic.Uint64

// Thread is the logical thread a single storage operation runs on. Work
// issued on a Thread can only be awaited on that same Thread.
type Thread struct {
	_  noCopy
	id uint64
}

func newThread() *Thread {
	return &Thread{id: threadIDs.Add(1)}
}

func (t *Thread) ID() uint64 {
	return t.id
}

// Implemented by results that own resources past the end of the operation,
// such as a streamed body. The release func cancels the operation's context
// and must be called once the result is closed.
type Releaser interface {
	AttachRelease(release func())
}

// Runs fn on a fresh logical thread and races it against timeout (zero means
// no timeout). The loser is cancelled: a timed-out fn sees its context
// cancelled and any result it produces later is closed.
//
// A result implementing Releaser keeps the operation's context alive until
// it is closed, so a streamed body can outlive Run.
func Run[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context, t *Thread) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome[T], 1)

	go func() {
		v, err := fn(opCtx, newThread())
		done <- outcome[T]{value: v, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-done:
		if out.err != nil {
			cancel()
			return zero, out.err
		}
		if r, ok := any(out.value).(Releaser); ok {
			r.AttachRelease(cancel)
		} else {
			cancel()
		}
		return out.value, nil
	case <-expired:
		cancel()
		go discardLate(done)
		return zero, ErrTimeout
	case <-ctx.Done():
		cancel()
		go discardLate(done)
		return zero, ctx.Err()
	}
}

func discardLate[T any](done <-chan outcome[T]) {
	out := <-done
	if c, ok := any(out.value).(io.Closer); ok && out.err == nil {
		_ = c.Close()
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// Pending is a unit of work issued on a Thread whose result has not been
// collected yet. It is not transferable between threads.
type Pending[T any] struct {
	owner   *Thread
	done    chan outcome[T]
	discard func(T)
	awaited atomic.Bool
}

// Starts fn in the background on behalf of t. discard, when set, releases a
// result that is produced after its awaiter gave up.
func Spawn[T any](t *Thread, fn func() (T, error), discard func(T)) *Pending[T] {
	p := &Pending[T]{owner: t, done: make(chan outcome[T], 1), discard: discard}
	go func() {
		v, err := fn()
		p.done <- outcome[T]{value: v, err: err}
	}()
	return p
}

// Spawns fn on t and awaits it straight away, for blocking client calls
// that should still run under the thread's ownership
func Call[T any](ctx context.Context, t *Thread, fn func(ctx context.Context) (T, error), discard func(T)) (T, error) {
	return Spawn(t, func() (T, error) { return fn(ctx) }, discard).Await(ctx, t)
}

// Blocks until the work completes or ctx is done. Only the issuing thread
// may await, and only once.
func (p *Pending[T]) Await(ctx context.Context, t *Thread) (T, error) {
	var zero T
	if t != p.owner {
		return zero, ErrForeignThread
	}
	if !p.awaited.CompareAndSwap(false, true) {
		return zero, ErrAwaited
	}

	select {
	case out := <-p.done:
		return out.value, out.err
	case <-ctx.Done():
		go func() {
			out := <-p.done
			if out.err == nil && p.discard != nil {
				p.discard(out.value)
			}
		}()
		return zero, ctx.Err()
	}
}

// Flags accidental copies of a Thread under go vet's copylocks check
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
