// Package domtest builds in-memory dom.Document fixtures from HTML markup.
//
// Geometry is declared inline: data-rect="x y w h" (several rects separated by ';')
// gives an element's client rects in layout-viewport coordinates. A
// <template data-shadowroot> child becomes its parent's open shadow root, and an
// <iframe data-frame="name"> resolves to the document registered with AttachFrame.
// Inline style declarations feed dom.Style; cursor and visibility inherit.
// Hit testing picks the last painted element under the point, ordered by the nearest
// explicit z-index and then document order.
package domtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/geom"
)

// Event records one side effect performed on the fixture.
type Event struct {
	Target string
	Type   string
	Detail string
}

// Document is a fixture frame.
type Document struct {
	url      string
	root     *Element
	all      []*Element
	viewport dom.ViewportState
	frames   map[string]*Document
	focused  *Element
	query    *goquery.Document

	Events    []Event
	Frames    int
	hitProbes int
}

// Element is a fixture element.
type Element struct {
	doc      *Document
	node     *html.Node
	tag      string
	parent   *Element
	children []*Element
	shadow   *ShadowRoot
	scope    *ShadowRoot
	style    dom.Style
	rects    []geom.Rect
	zIndex   *int
	order    int
	rendered bool
	scroll   dom.Scroll
	editable bool
}

// ShadowRoot is a fixture shadow root.
type ShadowRoot struct {
	host     *Element
	children []*Element
}

// Parse builds a document from markup. It panics on malformed geometry so fixtures
// fail loudly.
func Parse(url, markup string) *Document {
	node, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		panic(fmt.Sprintf("domtest: parse: %v", err))
	}
	d := &Document{
		url:    url,
		frames: make(map[string]*Document),
		viewport: dom.ViewportState{
			LayoutWidth: 1024, LayoutHeight: 768,
			VisualWidth: 1024, VisualHeight: 768,
			VisualScale: 1,
		},
		query: goquery.NewDocumentFromNode(node),
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			d.root = d.build(c, nil, nil)
			break
		}
	}
	return d
}

func (d *Document) build(n *html.Node, parent *Element, scope *ShadowRoot) *Element {
	el := &Element{
		doc:    d,
		node:   n,
		tag:    strings.ToLower(n.Data),
		parent: parent,
		scope:  scope,
		order:  len(d.all),
	}
	d.all = append(d.all, el)
	el.style = parseStyle(el, attr(n, "style"))
	el.rects = parseRects(attr(n, "data-rect"))
	if v, ok := hasAttr(n, "contenteditable"); ok {
		el.editable = v == "" || v == "true"
	}
	el.rendered = el.style.Display != "none" && (parent == nil || parent.rendered)
	if v := attr(n, "data-scroll"); v != "" {
		var s dom.Scroll
		if _, err := fmt.Sscanf(v, "%g %g %g %g", &s.ScrollWidth, &s.ScrollHeight, &s.ClientWidth, &s.ClientHeight); err != nil {
			panic(fmt.Sprintf("domtest: bad data-scroll %q: %v", v, err))
		}
		el.scroll = s
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.Data == "template" {
			if _, ok := hasAttr(c, "data-shadowroot"); ok {
				sr := &ShadowRoot{host: el}
				el.shadow = sr
				for sc := c.FirstChild; sc != nil; sc = sc.NextSibling {
					if sc.Type == html.ElementNode {
						sr.children = append(sr.children, d.build(sc, el, sr))
					}
				}
				continue
			}
		}
		el.children = append(el.children, d.build(c, el, scope))
	}
	return el
}

// AttachFrame registers the document an <iframe data-frame="name"> resolves to.
func (d *Document) AttachFrame(name string, child *Document) {
	d.frames[name] = child
}

// SetViewport replaces the viewport snapshot.
func (d *Document) SetViewport(v dom.ViewportState) { d.viewport = v }

// ByID returns the element with the given id attribute, or nil.
func (d *Document) ByID(id string) *Element {
	for _, el := range d.all {
		if attr(el.node, "id") == id {
			return el
		}
	}
	return nil
}

// Focused returns the focused element, or nil.
func (d *Document) Focused() *Element { return d.focused }

// HitProbes reports how many hit tests ran.
func (d *Document) HitProbes() int { return d.hitProbes }

// EventTypes lists recorded event types for the given target id, in order.
func (d *Document) EventTypes(target string) []string {
	var out []string
	for _, ev := range d.Events {
		if ev.Target == target {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (d *Document) URL() string                   { return d.url }
func (d *Document) DocumentElement() dom.Element { return d.root }
func (d *Document) Viewport() dom.ViewportState  { return d.viewport }

func (d *Document) NextFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Frames++
	return nil
}

func (d *Document) ImagesForMap(name string) []dom.Element {
	var out []dom.Element
	for _, el := range d.all {
		if el.tag == "img" && attr(el.node, "usemap") == "#"+name {
			out = append(out, el)
		}
	}
	return out
}

func (d *Document) ElementFromPoint(x, y float64) dom.Element {
	top := d.topmost(x, y)
	if top == nil {
		return nil
	}
	for top.scope != nil {
		top = top.scope.host
	}
	return top
}

func (d *Document) topmost(x, y float64) *Element {
	d.hitProbes++
	var hits []*Element
	for _, el := range d.all {
		if !el.rendered || el.style.Visibility == "hidden" || el.style.Opacity == 0 {
			continue
		}
		for _, r := range el.rects {
			if r.Contains(x, y) {
				hits = append(hits, el)
				break
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool {
		zi, zj := hits[i].stackLevel(), hits[j].stackLevel()
		if zi != zj {
			return zi < zj
		}
		return hits[i].order < hits[j].order
	})
	return hits[len(hits)-1]
}

func (e *Element) stackLevel() int {
	for el := e; el != nil; el = el.parent {
		if el.zIndex != nil {
			return *el.zIndex
		}
	}
	return 0
}

func (s *ShadowRoot) Children() []dom.Element { return toDOM(s.children) }

func (s *ShadowRoot) ElementFromPoint(x, y float64) dom.Element {
	top := s.host.doc.topmost(x, y)
	for el := top; el != nil; {
		if el.scope == s {
			return el
		}
		if el.scope == nil {
			return nil
		}
		el = el.scope.host
	}
	return nil
}

func (e *Element) TagName() string { return e.tag }

func (e *Element) Attribute(name string) (string, bool) { return hasAttr(e.node, name) }

func (e *Element) Style() dom.Style { return e.style }

func (e *Element) ClientRects() []geom.Rect {
	if !e.rendered {
		return nil
	}
	out := make([]geom.Rect, len(e.rects))
	copy(out, e.rects)
	return out
}

func (e *Element) BoundingClientRect() geom.Rect {
	if !e.rendered || len(e.rects) == 0 {
		return geom.NewRect(0, 0, 0, 0, geom.ElementBorder, geom.LayoutViewport)
	}
	return geom.BoundRects(e.rects...)
}

func (e *Element) Scroll() dom.Scroll      { return e.scroll }
func (e *Element) IsContentEditable() bool { return e.editable }
func (e *Element) IsFocused() bool         { return e.doc.focused == e }

func (e *Element) Matches(selector string) bool {
	return e.doc.query.FindNodes(e.node).Is(selector)
}

func (e *Element) Parent() dom.Element {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *Element) Children() []dom.Element { return toDOM(e.children) }

func (e *Element) ShadowRoot() dom.ShadowRoot {
	if e.shadow == nil {
		return nil
	}
	return e.shadow
}

func (e *Element) ContentDocument() dom.Document {
	child, ok := e.doc.frames[attr(e.node, "data-frame")]
	if !ok {
		return nil
	}
	return child
}

func (e *Element) record(typ, detail string) {
	e.doc.Events = append(e.doc.Events, Event{Target: e.label(), Type: typ, Detail: detail})
}

func (e *Element) label() string {
	if id := attr(e.node, "id"); id != "" {
		return id
	}
	return e.tag
}

func (e *Element) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.focused = e
	e.record("focus", "")
	return nil
}

func (e *Element) Blur(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.doc.focused == e {
		e.doc.focused = nil
	}
	e.record("blur", "")
	return nil
}

func (e *Element) ShowPicker(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.record("showPicker", "")
	return nil
}

func (e *Element) SetAttribute(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr[i].Val = value
			e.record("setAttribute", name+"="+value)
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
	e.record("setAttribute", name+"="+value)
	return nil
}

func (e *Element) RemoveAttribute(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attrs := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Key != name {
			attrs = append(attrs, a)
		}
	}
	e.node.Attr = attrs
	e.record("removeAttribute", name)
	return nil
}

func (e *Element) DispatchMouseEvent(ctx context.Context, ev dom.MouseEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var mods []string
	for _, m := range []struct {
		on   bool
		name string
	}{{ev.ShiftKey, "shift"}, {ev.AltKey, "alt"}, {ev.CtrlKey, "ctrl"}, {ev.MetaKey, "meta"}} {
		if m.on {
			mods = append(mods, m.name)
		}
	}
	e.record(ev.Type, strings.Join(mods, "+"))
	for _, t := range strings.Fields(attr(e.node, "data-cancel")) {
		if t == ev.Type {
			return false, nil
		}
	}
	return true, nil
}

func toDOM(els []*Element) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}

func attr(n *html.Node, key string) string {
	v, _ := hasAttr(n, key)
	return v
}

func hasAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func parseRects(v string) []geom.Rect {
	var out []geom.Rect
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var x, y, w, h float64
		if _, err := fmt.Sscanf(part, "%g %g %g %g", &x, &y, &w, &h); err != nil {
			panic(fmt.Sprintf("domtest: bad data-rect %q: %v", part, err))
		}
		out = append(out, geom.NewRect(x, y, w, h, geom.ElementBorder, geom.LayoutViewport))
	}
	return out
}

func parseStyle(el *Element, decl string) dom.Style {
	s := dom.Style{
		Display:       "block",
		Visibility:    "visible",
		Opacity:       1,
		Position:      "static",
		OverflowX:     "visible",
		OverflowY:     "visible",
		Cursor:        "auto",
		BoxSizing:     "content-box",
		PaddingTop:    "0px",
		PaddingRight:  "0px",
		PaddingBottom: "0px",
		PaddingLeft:   "0px",
	}
	if el.parent != nil {
		s.Cursor = el.parent.style.Cursor
		s.Visibility = el.parent.style.Visibility
	}
	if el.tag == "a" {
		if _, ok := hasAttr(el.node, "href"); ok {
			s.Cursor = "pointer"
		}
	}
	for _, d := range strings.Split(decl, ";") {
		name, value, ok := strings.Cut(d, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch name {
		case "display":
			s.Display = value
		case "visibility":
			s.Visibility = value
		case "opacity":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.Opacity = f
			}
		case "position":
			s.Position = value
		case "overflow":
			s.OverflowX, s.OverflowY = value, value
		case "overflow-x":
			s.OverflowX = value
		case "overflow-y":
			s.OverflowY = value
		case "cursor":
			s.Cursor = value
		case "box-sizing":
			s.BoxSizing = value
		case "border-width":
			w, _ := strconv.ParseFloat(strings.TrimSuffix(value, "px"), 64)
			s.BorderTop, s.BorderRight, s.BorderBottom, s.BorderLeft = w, w, w, w
		case "padding":
			s.PaddingTop, s.PaddingRight, s.PaddingBottom, s.PaddingLeft = value, value, value, value
		case "z-index":
			if z, err := strconv.Atoi(value); err == nil {
				el.zIndex = &z
			}
		}
	}
	return s
}
