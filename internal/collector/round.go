package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"hintnav-mcp-server/internal/aggregate"
)

// Round is one aggregation request and the stream of its batches.
type Round struct {
	ID uint64

	mu      sync.Mutex
	queue   [][]aggregate.RectHolder
	notify  chan struct{}
	closing bool

	out       chan []aggregate.RectHolder
	exited    chan struct{}
	done      chan struct{}
	cancelled chan struct{}
	stopOnce  sync.Once
	cancelOne sync.Once
	timedOut  atomic.Bool
	timer     *time.Timer
}

func newRound(id uint64) *Round {
	r := &Round{
		ID:        id,
		notify:    make(chan struct{}, 1),
		out:       make(chan []aggregate.RectHolder),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	go r.pump()
	return r
}

// Batches yields the fragments in arrival order. It is closed once the round has
// stopped and, unless it was completed early, every accepted batch was delivered.
func (r *Round) Batches() <-chan []aggregate.RectHolder { return r.out }

// Done is closed when the round stops accepting fragments.
func (r *Round) Done() <-chan struct{} { return r.done }

// TimedOut reports whether the round ended on its deadline.
func (r *Round) TimedOut() bool { return r.timedOut.Load() }

// Complete ends the round early. Fragments still queued are dropped and later ones
// are refused.
func (r *Round) Complete() { r.stop(true) }

func (r *Round) setTimer(t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = t
}

func (r *Round) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Round) stop(cancel bool) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closing = true
		t := r.timer
		r.mu.Unlock()
		if t != nil {
			t.Stop()
		}
		close(r.done)
	})
	if cancel {
		r.cancelOne.Do(func() { close(r.cancelled) })
	}
}

// push queues a batch; it reports false once the round has stopped.
func (r *Round) push(batch []aggregate.RectHolder) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	if len(batch) == 0 {
		return true
	}
	r.queue = append(r.queue, batch)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

func (r *Round) pop() ([]aggregate.RectHolder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	b := r.queue[0]
	r.queue = r.queue[1:]
	return b, true
}

// pump hands queued batches to the consumer so the root frame never blocks on it.
func (r *Round) pump() {
	defer close(r.exited)
	defer close(r.out)
	for {
		for {
			b, ok := r.pop()
			if !ok {
				break
			}
			select {
			case r.out <- b:
			case <-r.cancelled:
				return
			}
		}
		select {
		case <-r.notify:
		case <-r.cancelled:
			return
		case <-r.done:
			// Deliver whatever arrived before the deadline, then close.
			for {
				b, ok := r.pop()
				if !ok {
					return
				}
				select {
				case r.out <- b:
				case <-r.cancelled:
					return
				}
			}
		}
	}
}
