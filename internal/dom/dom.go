// Package dom defines the DOM surface the hint engine needs from a frame.
//
// Implementations live in internal/browser (a live Chrome frame over CDP) and in
// internal/dom/domtest (HTML fixtures for tests). Element values must be comparable
// and stable for the lifetime of one Document so they can key per-round caches.
package dom

import (
	"context"

	"hintnav-mcp-server/internal/geom"
)

// Style is the subset of computed style the engine inspects. Lengths that are
// reported in pixels are pre-parsed; padding keeps its raw text so callers can tell
// when a non-pixel unit slipped through.
type Style struct {
	Display    string
	Visibility string
	Opacity    float64
	Position   string
	OverflowX  string
	OverflowY  string
	Cursor     string
	BoxSizing  string

	BorderTop, BorderRight, BorderBottom, BorderLeft     float64
	PaddingTop, PaddingRight, PaddingBottom, PaddingLeft string
}

// Hidden reports whether the element itself renders nothing.
func (s Style) Hidden() bool {
	return s.Display == "none" || s.Visibility == "hidden" || s.Visibility == "collapse" || s.Opacity == 0
}

// Borders returns the border widths as sides.
func (s Style) Borders() geom.Sides {
	return geom.Sides{Top: s.BorderTop, Right: s.BorderRight, Bottom: s.BorderBottom, Left: s.BorderLeft}
}

// OverflowVisible reports whether content may escape the box on both axes.
func (s Style) OverflowVisible() bool {
	return visibleOverflow(s.OverflowX) && visibleOverflow(s.OverflowY)
}

func visibleOverflow(v string) bool { return v == "" || v == "visible" }

// Scroll describes an element's scroll geometry.
type Scroll struct {
	ScrollWidth, ScrollHeight float64
	ClientWidth, ClientHeight float64
}

// MouseEvent is a synthetic mouse event with replayed modifier state.
type MouseEvent struct {
	Type     string
	ClientX  float64
	ClientY  float64
	ShiftKey bool
	AltKey   bool
	CtrlKey  bool
	MetaKey  bool
}

// HitTester resolves the element painted at a point.
type HitTester interface {
	// ElementFromPoint returns the topmost element at (x, y) in layout-viewport
	// coordinates, or nil.
	ElementFromPoint(x, y float64) Element
}

// Element is one element of a frame's composed tree.
type Element interface {
	TagName() string
	Attribute(name string) (string, bool)
	Style() Style
	ClientRects() []geom.Rect
	BoundingClientRect() geom.Rect
	Scroll() Scroll
	IsContentEditable() bool
	IsFocused() bool
	Matches(selector string) bool

	// Parent returns the composed parent: the parent element, or the shadow host
	// for a shadow root's top-level children. Nil at the document element.
	Parent() Element
	Children() []Element
	// ShadowRoot returns the element's open shadow root, or nil.
	ShadowRoot() ShadowRoot
	// ContentDocument returns the document of an iframe/frame element when it is
	// reachable from this frame, or nil.
	ContentDocument() Document

	Focus(ctx context.Context) error
	Blur(ctx context.Context) error
	ShowPicker(ctx context.Context) error
	SetAttribute(ctx context.Context, name, value string) error
	RemoveAttribute(ctx context.Context, name string) error
	// DispatchMouseEvent reports false when a listener cancelled the event.
	DispatchMouseEvent(ctx context.Context, ev MouseEvent) (bool, error)
}

// ShadowRoot is an open shadow root attached to a host element.
type ShadowRoot interface {
	HitTester
	Children() []Element
}

// Document is one frame's document.
type Document interface {
	HitTester
	// URL of the frame.
	URL() string
	DocumentElement() Element
	// ImagesForMap returns the images whose usemap points at the named map.
	ImagesForMap(name string) []Element
	Viewport() ViewportState
	// NextFrame yields until the next rendering frame.
	NextFrame(ctx context.Context) error
}

// ViewportState is a snapshot of window viewport metrics.
type ViewportState struct {
	// Layout viewport size (documentElement.clientWidth/Height).
	LayoutWidth, LayoutHeight float64
	// Document scroll offset (window.scrollX/Y).
	ScrollX, ScrollY float64
	// window.visualViewport.
	VisualOffsetLeft, VisualOffsetTop float64
	VisualWidth, VisualHeight         float64
	VisualScale                       float64
}

// Walk visits el and its composed descendants (light children, then shadow root
// children) in document order.
func Walk(el Element, visit func(Element)) {
	if el == nil {
		return
	}
	visit(el)
	if sr := el.ShadowRoot(); sr != nil {
		for _, c := range sr.Children() {
			Walk(c, visit)
		}
	}
	for _, c := range el.Children() {
		Walk(c, visit)
	}
}

// Contains reports whether descendant is ancestor or lies below it in the composed tree.
func Contains(ancestor, descendant Element) bool {
	for el := descendant; el != nil; el = el.Parent() {
		if el == ancestor {
			return true
		}
	}
	return false
}

// DeepElementFromPoint hit-tests through open shadow roots.
func DeepElementFromPoint(doc HitTester, x, y float64) Element {
	el := doc.ElementFromPoint(x, y)
	for el != nil {
		sr := el.ShadowRoot()
		if sr == nil {
			break
		}
		inner := sr.ElementFromPoint(x, y)
		if inner == nil || inner == el {
			break
		}
		el = inner
	}
	return el
}

// IsDocumentBoundary reports whether el is <html> or <body>.
func IsDocumentBoundary(el Element) bool {
	tag := el.TagName()
	return tag == "html" || tag == "body"
}
