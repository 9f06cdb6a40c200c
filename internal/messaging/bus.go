package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/dom"
)

const (
	// Background addresses the broker itself.
	Background = -1
	// RootFrame is the id of the first attached frame.
	RootFrame = 0

	mailboxSize = 256
)

// Attacher builds the router of a frame the first time the bus delivers into it. It
// runs outside the bus lock; concurrent attaches of the same document wait for it.
type Attacher func(port *Port) (*Router, error)

type result struct {
	value any
	err   error
}

type envelope struct {
	ctx   context.Context
	msg   Message
	reply chan result
}

// pendingFrame is a frame whose router is being built.
type pendingFrame struct {
	done chan struct{}
}

type mailbox struct {
	id     int
	doc    dom.Document
	router *Router
	queue  chan envelope
	done   chan struct{}
}

// Bus is the background broker. It assigns frame ids, owns one mailbox per frame and
// answers GetFrameId itself.
type Bus struct {
	mu      sync.Mutex
	attach  Attacher
	frames  map[int]*mailbox
	byDoc   map[dom.Document]*mailbox
	pending map[dom.Document]*pendingFrame
	nextID  int
	closed  bool
	log     logrus.FieldLogger
	workers sync.WaitGroup
}

// NewBus starts a bus whose background mailbox serves background. attach builds the
// router for every frame document.
func NewBus(background *Router, attach Attacher, log logrus.FieldLogger) (*Bus, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	builtin := NewRouter()
	if err := builtin.Handle(GetFrameID, func(_ context.Context, msg Message) (any, error) {
		return msg.Sender, nil
	}); err != nil {
		return nil, err
	}
	router, err := builtin.Merge(background)
	if err != nil {
		return nil, fmt.Errorf("background router: %w", err)
	}
	b := &Bus{
		attach: attach,
		frames: make(map[int]*mailbox),
		byDoc:   make(map[dom.Document]*mailbox),
		pending: make(map[dom.Document]*pendingFrame),
		nextID:  RootFrame,
		log:    log,
	}
	b.start(&mailbox{id: Background, router: router})
	return b, nil
}

func (b *Bus) start(mb *mailbox) {
	mb.queue = make(chan envelope, mailboxSize)
	mb.done = make(chan struct{})
	b.frames[mb.id] = mb
	if mb.doc != nil {
		b.byDoc[mb.doc] = mb
	}
	b.workers.Add(1)
	go b.drain(mb)
}

// drain is the single goroutine of a frame.
func (b *Bus) drain(mb *mailbox) {
	defer b.workers.Done()
	log := b.log.WithField("frame", mb.id)
	for {
		select {
		case <-mb.done:
			return
		case env := <-mb.queue:
			if env.ctx.Err() != nil {
				if env.reply != nil {
					env.reply <- result{err: env.ctx.Err()}
				}
				continue
			}
			v, err := mb.router.Dispatch(env.ctx, env.msg)
			if env.reply != nil {
				env.reply <- result{value: v, err: err}
			} else if err != nil {
				log.WithError(err).WithField("kind", env.msg.Kind).Warn("message dropped")
			}
		}
	}
}

// Attach returns the port of doc, creating its mailbox on first use.
func (b *Bus) Attach(doc dom.Document) (*Port, error) {
	mb, err := b.attachFrame(doc)
	if err != nil {
		return nil, err
	}
	return &Port{bus: b, id: mb.id, doc: doc}, nil
}

// attachFrame reserves the next id for doc and builds its router without holding the
// lock, so the Attacher may read the document or call into the bus.
func (b *Bus) attachFrame(doc dom.Document) (*mailbox, error) {
	b.mu.Lock()
	for {
		if b.closed {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: bus closed", ErrIllegalState)
		}
		if mb, ok := b.byDoc[doc]; ok {
			b.mu.Unlock()
			return mb, nil
		}
		p, ok := b.pending[doc]
		if !ok {
			break
		}
		b.mu.Unlock()
		<-p.done
		b.mu.Lock()
	}
	id := b.nextID
	b.nextID++
	p := &pendingFrame{done: make(chan struct{})}
	b.pending[doc] = p
	b.mu.Unlock()

	router, err := b.attach(&Port{bus: b, id: id, doc: doc})

	b.mu.Lock()
	delete(b.pending, doc)
	close(p.done)
	if err != nil {
		if b.nextID == id+1 {
			b.nextID = id
		}
		b.mu.Unlock()
		return nil, fmt.Errorf("attach frame %d: %w", id, err)
	}
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: bus closed", ErrIllegalState)
	}
	mb := &mailbox{id: id, doc: doc, router: router}
	b.start(mb)
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{"frame": id, "url": doc.URL()}).Debug("frame attached")
	return mb, nil
}

// Detach stops the mailbox of doc. Messages still queued are dropped.
func (b *Bus) Detach(doc dom.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.byDoc[doc]
	if !ok {
		return
	}
	delete(b.byDoc, doc)
	delete(b.frames, mb.id)
	close(mb.done)
}

// FrameCount reports the number of attached frames.
func (b *Bus) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byDoc)
}

// Close stops every mailbox and waits for their goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id, mb := range b.frames {
			close(mb.done)
			delete(b.frames, id)
		}
		b.byDoc = make(map[dom.Document]*mailbox)
	}
	b.mu.Unlock()
	b.workers.Wait()
}

func (b *Bus) enqueue(mb *mailbox, env envelope) bool {
	select {
	case mb.queue <- env:
		return true
	case <-mb.done:
		return false
	default:
		return false
	}
}

func (b *Bus) lookup(to int) (*mailbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.frames[to]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, to)
	}
	return mb, nil
}

// SendToFrame delivers msg to frame to without waiting for it to be handled. A full
// or unknown mailbox drops the message with a warning.
func (b *Bus) SendToFrame(ctx context.Context, to int, msg Message) {
	log := b.log.WithFields(logrus.Fields{"to": to, "kind": msg.Kind})
	mb, err := b.lookup(to)
	if err != nil {
		log.WithError(err).Warn("message dropped")
		return
	}
	if !b.enqueue(mb, envelope{ctx: context.WithoutCancel(ctx), msg: msg}) {
		log.Warn("mailbox unavailable, message dropped")
	}
}

// PostToWindow delivers msg into the frame of doc, attaching it first if needed.
func (b *Bus) PostToWindow(ctx context.Context, doc dom.Document, msg Message) error {
	mb, err := b.attachFrame(doc)
	if err != nil {
		return err
	}
	if !b.enqueue(mb, envelope{ctx: context.WithoutCancel(ctx), msg: msg}) {
		return fmt.Errorf("post %s to frame %d: mailbox unavailable", msg.Kind, mb.id)
	}
	return nil
}

// Request delivers msg to frame to and waits for the handler's answer.
func (b *Bus) Request(ctx context.Context, to int, msg Message) (any, error) {
	mb, err := b.lookup(to)
	if err != nil {
		return nil, err
	}
	reply := make(chan result, 1)
	if !b.enqueue(mb, envelope{ctx: ctx, msg: msg, reply: reply}) {
		return nil, fmt.Errorf("request %s to frame %d: mailbox unavailable", msg.Kind, to)
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-mb.done:
		return nil, fmt.Errorf("request %s to frame %d: frame detached", msg.Kind, to)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Port is a frame's handle on the bus. Messages sent through it carry the frame's id.
type Port struct {
	bus *Bus
	id  int
	doc dom.Document
}

// ID is the frame id assigned by the bus. Participants learn it through GetFrameId.
func (p *Port) ID() int { return p.id }

// Document is the frame's document.
func (p *Port) Document() dom.Document { return p.doc }

// Bus returns the bus the port belongs to.
func (p *Port) Bus() *Bus { return p.bus }

func (p *Port) stamp(msg Message) Message {
	msg.Sender = p.id
	return msg
}

// Send delivers msg to frame to without waiting.
func (p *Port) Send(ctx context.Context, to int, msg Message) {
	p.bus.SendToFrame(ctx, to, p.stamp(msg))
}

// Request delivers msg to frame to and waits for the answer. A frame must not request
// from itself.
func (p *Port) Request(ctx context.Context, to int, msg Message) (any, error) {
	if to == p.id {
		return nil, fmt.Errorf("%w: frame %d requested %s from itself", ErrIllegalState, p.id, msg.Kind)
	}
	return p.bus.Request(ctx, to, p.stamp(msg))
}

// PostToWindow delivers msg into the frame of doc.
func (p *Port) PostToWindow(ctx context.Context, doc dom.Document, msg Message) error {
	return p.bus.PostToWindow(ctx, doc, p.stamp(msg))
}
