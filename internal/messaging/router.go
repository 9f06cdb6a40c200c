// Package messaging carries requests between frames and the background broker.
//
// Every frame owns a mailbox drained by one goroutine, so handlers of one frame never
// run concurrently. Delivery is at most once and unordered across frames. Handlers are
// looked up in a Router keyed by a closed set of message kinds.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/aggregate"
)

var (
	// ErrIllegalState reports a protocol invariant broken by the caller.
	ErrIllegalState = errors.New("illegal state")
	// ErrUnhandled reports a message kind no handler is registered for.
	ErrUnhandled = errors.New("no handler for message")
	// ErrUnknownFrame reports a message addressed to a frame the bus does not know.
	ErrUnknownFrame = errors.New("unknown frame")
)

// Kind is the type of a message.
type Kind int

const (
	GetFrameID Kind = iota + 1
	AllRectsRequest
	ResponseRectsFragment
	GetDescriptions
	ExecuteAction
	MatchBlacklist
	MatchAdditionalSelectors
)

var kindNames = map[Kind]string{
	GetFrameID:               "GetFrameId",
	AllRectsRequest:          "AllRectsRequest",
	ResponseRectsFragment:    "ResponseRectsFragment",
	GetDescriptions:          "GetDescriptions",
	ExecuteAction:            "ExecuteAction",
	MatchBlacklist:           "MatchBlacklist",
	MatchAdditionalSelectors: "MatchAdditionalSelectors",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Message is one envelope on the bus. Sender is stamped by the bus.
type Message struct {
	Kind    Kind
	Sender  int
	Payload any
}

// AllRects is the AllRectsRequest payload.
type AllRects struct {
	RequestID uint64 `json:"requestId"`
	aggregate.Request
}

// RectsFragment is the ResponseRectsFragment payload.
type RectsFragment struct {
	RequestID uint64                 `json:"requestId"`
	Rects     []aggregate.RectHolder `json:"rects"`
}

// ElementRequest addresses one profile of the current round (GetDescriptions).
type ElementRequest struct {
	ID aggregate.ElementID `json:"id"`
}

// ActionRequest is the ExecuteAction payload.
type ActionRequest struct {
	ID      aggregate.ElementID `json:"id"`
	Options action.Options      `json:"options"`
}

// URLRequest is the MatchBlacklist and MatchAdditionalSelectors payload. Both answer
// with a []string.
type URLRequest struct {
	URL string `json:"url"`
}

// Handler serves one message kind. The response is returned to requesters and dropped
// for fire-and-forget sends.
type Handler func(ctx context.Context, msg Message) (any, error)

// Router is a dispatch table from kind to handler.
type Router struct {
	handlers map[Kind]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Kind]Handler)}
}

// Handle registers h for kind. Registering a kind twice is an error.
func (r *Router) Handle(kind Kind, h Handler) error {
	if _, ok := kindNames[kind]; !ok {
		return fmt.Errorf("register %s: unknown kind", kind)
	}
	if _, dup := r.handlers[kind]; dup {
		return fmt.Errorf("register %s: duplicate handler", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Handles reports whether a handler is registered for kind.
func (r *Router) Handles(kind Kind) bool {
	_, ok := r.handlers[kind]
	return ok
}

// Merge returns a router holding the handlers of r and others. A kind registered in
// more than one of them is an error.
func (r *Router) Merge(others ...*Router) (*Router, error) {
	out := NewRouter()
	for _, src := range append([]*Router{r}, others...) {
		if src == nil {
			continue
		}
		for k, h := range src.handlers {
			if err := out.Handle(k, h); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Dispatch runs the handler registered for msg.Kind.
func (r *Router) Dispatch(ctx context.Context, msg Message) (any, error) {
	h, ok := r.handlers[msg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandled, msg.Kind)
	}
	return h(ctx, msg)
}
