// Package aggregate collects the hintable elements of one frame.
//
// An Aggregator walks the frame's composed tree once per round, keeps elements that
// are visible and have an action, merges elements sharing an actual target into one
// profile, and prepares the requests for child frames with their viewport and offsets
// composed.
package aggregate

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/detector"
	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/geom"
)

// ElementID identifies a profile within one round.
type ElementID struct {
	FrameID int `json:"frameId"`
	Index   int `json:"index"`
}

// ElementProfile is a hintable element found in this frame. Rects are element-border
// rects measured from the root viewport.
type ElementProfile struct {
	ID      ElementID
	Element dom.Element
	Rects   []geom.Rect
	Action  action.Action
}

// RectHolder is the part of a profile that leaves the frame.
type RectHolder struct {
	Index   int         `json:"index"`
	FrameID int         `json:"frameId"`
	Rects   []geom.Rect `json:"rects"`
}

// Holder returns the wire form of p.
func (p ElementProfile) Holder() RectHolder {
	return RectHolder{Index: p.ID.Index, FrameID: p.ID.FrameID, Rects: p.Rects}
}

// Request asks a frame to aggregate. Viewport is the frame's actual viewport measured
// from its layout viewport; Offsets locates the frame's layout viewport inside the root
// viewport.
type Request struct {
	Viewport geom.Rect  `json:"viewport"`
	Offsets  geom.Point `json:"offsets"`
}

// ChildRequest is a Request addressed to a child frame document.
type ChildRequest struct {
	Frame    dom.Element
	Document dom.Document
	Request  Request
}

// Result is the outcome of one aggregation round in one frame.
type Result struct {
	Profiles []ElementProfile
	Children []ChildRequest
}

// Holders returns the wire form of every profile in index order.
func (r Result) Holders() []RectHolder {
	out := make([]RectHolder, len(r.Profiles))
	for i, p := range r.Profiles {
		out[i] = p.Holder()
	}
	return out
}

// Profile returns the profile at index.
func (r Result) Profile(index int) (ElementProfile, bool) {
	if index < 0 || index >= len(r.Profiles) {
		return ElementProfile{}, false
	}
	return r.Profiles[index], true
}

// Options configures an Aggregator.
type Options struct {
	Detector detector.Options
	Finder   action.FinderOptions
	Logger   logrus.FieldLogger
}

// Aggregator runs rounds for one frame.
type Aggregator struct {
	doc     dom.Document
	frameID int
	opts    Options
	log     logrus.FieldLogger
}

// New returns an aggregator for doc, whose frame id is frameID.
func New(doc dom.Document, frameID int, opts Options) *Aggregator {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("frame", frameID)
	if opts.Detector.Logger == nil {
		opts.Detector.Logger = log
	}
	if opts.Finder.Logger == nil {
		opts.Finder.Logger = log
	}
	return &Aggregator{doc: doc, frameID: frameID, opts: opts, log: log}
}

type pending struct {
	el     dom.Element
	rects  []geom.Rect
	action action.Action
}

// Run aggregates the frame once. Every call builds a fresh detector, so nothing is
// shared between rounds.
func (a *Aggregator) Run(req Request) Result {
	det := detector.New(a.doc, req.Viewport, a.opts.Detector)
	finder := action.NewFinder(a.doc, a.opts.Finder)

	var (
		found    []*pending
		byTarget = make(map[dom.Element]*pending)
		children []ChildRequest
	)
	dom.Walk(a.doc.DocumentElement(), func(el dom.Element) {
		rects := det.Detect(el)
		if len(rects) == 0 {
			return
		}
		if tag := el.TagName(); tag == "iframe" || tag == "frame" {
			if child, ok := a.childRequest(el, rects, req); ok {
				children = append(children, child)
			}
		}
		act, ok := finder.Find(el)
		if !ok {
			return
		}
		if p, seen := byTarget[act.Target]; seen {
			for _, r := range rects {
				p.rects = geom.Bond(p.rects, r)
			}
			return
		}
		p := &pending{el: el, action: act}
		for _, r := range rects {
			p.rects = geom.Bond(p.rects, r)
		}
		byTarget[act.Target] = p
		found = append(found, p)
	})

	res := Result{Children: children, Profiles: make([]ElementProfile, len(found))}
	for i, p := range found {
		res.Profiles[i] = ElementProfile{
			ID:      ElementID{FrameID: a.frameID, Index: i},
			Element: p.el,
			Rects:   geom.MoveAll(p.rects, req.Offsets),
			Action:  p.action,
		}
	}
	a.log.WithFields(logrus.Fields{"profiles": len(res.Profiles), "children": len(children)}).Debug("frame aggregated")
	return res
}

// childRequest composes the request for the frame hosted by el, whose visible rects
// are rects.
func (a *Aggregator) childRequest(el dom.Element, rects []geom.Rect, req Request) (ChildRequest, bool) {
	doc := el.ContentDocument()
	if doc == nil {
		return ChildRequest{}, false
	}
	content := a.contentRect(el)
	visible, ok := geom.Intersection(content, geom.BoundRects(rects...))
	if !ok {
		return ChildRequest{}, false
	}
	origin := content.TopLeft(geom.LayoutViewport)
	return ChildRequest{
		Frame:    el,
		Document: doc,
		Request: Request{
			Viewport: geom.Offsets(visible, origin.Reverse()).Retag(geom.ActualViewport),
			Offsets:  origin.Add(req.Offsets),
		},
	}, true
}

// contentRect returns the content box of a frame element. Padding in units other than
// px, or an unknown box-sizing, cannot be resolved here; the padding box is used
// instead and a warning logged.
func (a *Aggregator) contentRect(el dom.Element) geom.Rect {
	st := el.Style()
	padding := geom.CropByBorders(el.BoundingClientRect(), st.Borders(), geom.ElementPadding)

	if st.BoxSizing != "content-box" && st.BoxSizing != "border-box" {
		a.log.WithField("box_sizing", st.BoxSizing).Warn("unknown box-sizing on frame element, using padding box")
		return padding.Retag(geom.ElementContent)
	}
	var sides geom.Sides
	for _, side := range []struct {
		raw string
		dst *float64
	}{
		{st.PaddingTop, &sides.Top},
		{st.PaddingRight, &sides.Right},
		{st.PaddingBottom, &sides.Bottom},
		{st.PaddingLeft, &sides.Left},
	} {
		v, ok := pixels(side.raw)
		if !ok {
			a.log.WithField("padding", side.raw).Warn("non-pixel padding on frame element, using padding box")
			return padding.Retag(geom.ElementContent)
		}
		*side.dst = v
	}
	return geom.CropByBorders(padding, sides, geom.ElementContent)
}

func pixels(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" {
		return 0, true
	}
	if !strings.HasSuffix(v, "px") {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	return f, err == nil
}
