// Package collector runs aggregation rounds from the root frame.
//
// A round posts AllRectsRequest into the root frame and streams the fragments frames
// report back as batches. The frame tree never signals that it is done, so a round
// ends on its deadline or when the caller completes it. Fragments for any other
// request id are dropped.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/aggregate"
	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/messaging"
	"hintnav-mcp-server/internal/viewport"
)

// DefaultTimeout bounds one round.
const DefaultTimeout = 2 * time.Second

// Options configures a Collector.
type Options struct {
	Timeout time.Duration
	Logger  logrus.FieldLogger
	// OnTimeout, when set, is told about every round that hit its deadline.
	OnTimeout func(requestID uint64)
}

// Collector owns the rounds of one root frame.
type Collector struct {
	bus  *messaging.Bus
	root dom.Document
	opts Options
	log  logrus.FieldLogger

	mu      sync.Mutex
	lastID  uint64
	current *Round
}

// New returns a collector for the root document. Its Router must be registered on the
// root frame so fragments reach it.
func New(bus *messaging.Bus, root dom.Document, opts Options) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Collector{bus: bus, root: root, opts: opts, log: log}
}

// Router handles ResponseRectsFragment.
func (c *Collector) Router() (*messaging.Router, error) {
	r := messaging.NewRouter()
	if err := r.Handle(messaging.ResponseRectsFragment, c.handleFragment); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins a round. Only one round may be live at a time.
func (c *Collector) Start(ctx context.Context) (*Round, error) {
	c.mu.Lock()
	if c.current != nil && !c.current.finished() {
		id := c.current.ID
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: aggregation round %d still live", messaging.ErrIllegalState, id)
	}
	c.lastID++
	r := newRound(c.lastID)
	c.current = r
	c.mu.Unlock()

	log := c.log.WithField("request_id", r.ID)
	err := c.bus.PostToWindow(ctx, c.root, messaging.Message{
		Kind: messaging.AllRectsRequest,
		Payload: messaging.AllRects{
			RequestID: r.ID,
			Request: aggregate.Request{
				Viewport: viewport.RootActual(c.root),
				Offsets:  viewport.RootOffsets(),
			},
		},
	})
	if err != nil {
		r.stop(true)
		return nil, fmt.Errorf("start round %d: %w", r.ID, err)
	}

	r.setTimer(time.AfterFunc(c.opts.Timeout, func() {
		if r.finished() {
			return
		}
		log.WithField("timeout", c.opts.Timeout).Warn("aggregation round timed out, completing with the fragments received")
		r.timedOut.Store(true)
		r.stop(false)
		if c.opts.OnTimeout != nil {
			c.opts.OnTimeout(r.ID)
		}
	}))
	go func() {
		select {
		case <-ctx.Done():
			r.Complete()
		case <-r.cancelled:
		case <-r.exited:
		}
	}()
	log.Debug("aggregation round started")
	return r, nil
}

// Current returns the latest round, live or not.
func (c *Collector) Current() *Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Collector) handleFragment(_ context.Context, msg messaging.Message) (any, error) {
	frag, ok := msg.Payload.(messaging.RectsFragment)
	if !ok {
		return nil, fmt.Errorf("ResponseRectsFragment: unexpected payload %T", msg.Payload)
	}
	log := c.log.WithFields(logrus.Fields{"request_id": frag.RequestID, "frame": msg.Sender})

	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil || r.ID != frag.RequestID {
		log.Warn("fragment for a stale request dropped")
		return nil, nil
	}
	if !r.push(frag.Rects) {
		log.Warn("fragment after round completion dropped")
	}
	return nil, nil
}
