// Package agent is the per-frame participant of an aggregation round.
//
// An Agent answers AllRectsRequest by aggregating its own frame, reporting the
// fragment to the root frame and forwarding the request into child frames. It keeps
// the latest round's profiles so GetDescriptions and ExecuteAction can address them
// by index. All handlers run on the frame's mailbox goroutine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/aggregate"
	"hintnav-mcp-server/internal/messaging"
)

// ErrUnknownElement reports an element id that is not part of the frame's round.
var ErrUnknownElement = errors.New("unknown element")

// Options configures an Agent.
type Options struct {
	Aggregate aggregate.Options
	Logger    logrus.FieldLogger
}

type round struct {
	requestID uint64
	result    aggregate.Result
}

// Agent serves one frame.
type Agent struct {
	port *messaging.Port
	opts Options
	log  logrus.FieldLogger

	mu      sync.Mutex
	frameID *int
	current *round
}

// New returns the agent of the frame behind port.
func New(port *messaging.Port, opts Options) *Agent {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Agent{port: port, opts: opts, log: log.WithField("url", port.Document().URL())}
}

// Router returns the handlers of this agent.
func (a *Agent) Router() (*messaging.Router, error) {
	r := messaging.NewRouter()
	for kind, h := range map[messaging.Kind]messaging.Handler{
		messaging.AllRectsRequest: a.handleAllRects,
		messaging.GetDescriptions: a.handleDescriptions,
		messaging.ExecuteAction:   a.handleExecute,
	} {
		if err := r.Handle(kind, h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// FrameID asks the broker for this frame's id once and remembers it.
func (a *Agent) FrameID(ctx context.Context) (int, error) {
	a.mu.Lock()
	if a.frameID != nil {
		id := *a.frameID
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	v, err := a.port.Request(ctx, messaging.Background, messaging.Message{Kind: messaging.GetFrameID})
	if err != nil {
		return 0, fmt.Errorf("get frame id: %w", err)
	}
	id, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("get frame id: unexpected response %T", v)
	}
	a.mu.Lock()
	a.frameID = &id
	a.mu.Unlock()
	return id, nil
}

// Round returns the request id and result of the latest round.
func (a *Agent) Round() (uint64, aggregate.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return 0, aggregate.Result{}, false
	}
	return a.current.requestID, a.current.result, true
}

func (a *Agent) handleAllRects(ctx context.Context, msg messaging.Message) (any, error) {
	req, ok := msg.Payload.(messaging.AllRects)
	if !ok {
		return nil, fmt.Errorf("AllRectsRequest: unexpected payload %T", msg.Payload)
	}
	frameID, err := a.FrameID(ctx)
	if err != nil {
		return nil, err
	}
	log := a.log.WithFields(logrus.Fields{"frame": frameID, "request_id": req.RequestID})

	opts := a.opts.Aggregate
	opts.Logger = log
	opts.Finder.AdditionalSelectors = append(append([]string(nil), opts.Finder.AdditionalSelectors...),
		a.additionalSelectors(ctx, log)...)

	// A new request replaces whatever round this frame held before.
	res := aggregate.New(a.port.Document(), frameID, opts).Run(req.Request)
	a.mu.Lock()
	a.current = &round{requestID: req.RequestID, result: res}
	a.mu.Unlock()

	a.port.Send(ctx, messaging.RootFrame, messaging.Message{
		Kind:    messaging.ResponseRectsFragment,
		Payload: messaging.RectsFragment{RequestID: req.RequestID, Rects: res.Holders()},
	})
	for _, child := range res.Children {
		err := a.port.PostToWindow(ctx, child.Document, messaging.Message{
			Kind:    messaging.AllRectsRequest,
			Payload: messaging.AllRects{RequestID: req.RequestID, Request: child.Request},
		})
		if err != nil {
			log.WithError(err).WithField("child_url", child.Document.URL()).Warn("could not forward request into child frame")
		}
	}
	return nil, nil
}

// additionalSelectors asks the broker for the per-URL selectors of this frame. A
// broker without settings yields none.
func (a *Agent) additionalSelectors(ctx context.Context, log logrus.FieldLogger) []string {
	v, err := a.port.Request(ctx, messaging.Background, messaging.Message{
		Kind:    messaging.MatchAdditionalSelectors,
		Payload: messaging.URLRequest{URL: a.port.Document().URL()},
	})
	if err != nil {
		if !errors.Is(err, messaging.ErrUnhandled) {
			log.WithError(err).Warn("additional selectors unavailable")
		}
		return nil
	}
	sel, _ := v.([]string)
	return sel
}

func (a *Agent) profile(id aggregate.ElementID) (aggregate.ElementProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return aggregate.ElementProfile{}, fmt.Errorf("%w: %+v (no round)", ErrUnknownElement, id)
	}
	p, ok := a.current.result.Profile(id.Index)
	if !ok || p.ID.FrameID != id.FrameID {
		return aggregate.ElementProfile{}, fmt.Errorf("%w: %+v", ErrUnknownElement, id)
	}
	return p, nil
}

func (a *Agent) handleDescriptions(_ context.Context, msg messaging.Message) (any, error) {
	req, ok := msg.Payload.(messaging.ElementRequest)
	if !ok {
		return nil, fmt.Errorf("GetDescriptions: unexpected payload %T", msg.Payload)
	}
	p, err := a.profile(req.ID)
	if err != nil {
		a.log.WithError(err).Warn("descriptions requested for unknown element")
		return nil, err
	}
	return p.Action.Descriptions(), nil
}

func (a *Agent) handleExecute(ctx context.Context, msg messaging.Message) (any, error) {
	req, ok := msg.Payload.(messaging.ActionRequest)
	if !ok {
		return nil, fmt.Errorf("ExecuteAction: unexpected payload %T", msg.Payload)
	}
	p, err := a.profile(req.ID)
	if err != nil {
		a.log.WithError(err).Warn("action requested for unknown element, discarded")
		return nil, err
	}
	a.log.WithFields(logrus.Fields{"index": req.ID.Index, "rule": p.Action.Rule.Name()}).Debug("executing action")
	if err := p.Action.Handle(ctx, req.Options); err != nil {
		return nil, err
	}
	return p.Action.Descriptions(), nil
}
