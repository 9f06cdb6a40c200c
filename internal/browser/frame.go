package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/geom"
)

// callTimeout bounds a single evaluation inside a frame.
const callTimeout = 5 * time.Second

// errStaleNode is returned when the page dropped the registry a snapshot was taken
// against, usually after a navigation.
var errStaleNode = errors.New("stale node")

// snapshotJS walks the composed tree of the frame once, keeps every element in a
// page-side registry so later calls can address it by index, and returns the
// geometry and style the hint engine reads.
const snapshotJS = `() => {
	const reg = { nodes: [], index: new Map() };
	window.__hintnav = reg;
	const px = v => { const n = parseFloat(v); return isNaN(n) ? 0 : n; };
	const rect = r => [r.x, r.y, r.width, r.height];
	const out = [];
	const visit = (el, parent) => {
		const i = reg.nodes.length;
		reg.nodes.push(el);
		reg.index.set(el, i);
		const cs = getComputedStyle(el);
		const attrs = {};
		for (const a of el.attributes) attrs[a.name] = a.value;
		const opacity = parseFloat(cs.opacity);
		const n = {
			tag: el.localName,
			attrs,
			parent,
			style: {
				display: cs.display,
				visibility: cs.visibility,
				opacity: isNaN(opacity) ? 1 : opacity,
				position: cs.position,
				overflowX: cs.overflowX,
				overflowY: cs.overflowY,
				cursor: cs.cursor,
				boxSizing: cs.boxSizing,
				border: [px(cs.borderTopWidth), px(cs.borderRightWidth), px(cs.borderBottomWidth), px(cs.borderLeftWidth)],
				padding: [cs.paddingTop, cs.paddingRight, cs.paddingBottom, cs.paddingLeft],
			},
			rects: Array.from(el.getClientRects(), rect),
			bounds: rect(el.getBoundingClientRect()),
			scroll: [el.scrollWidth, el.scrollHeight, el.clientWidth, el.clientHeight],
			editable: el.isContentEditable === true,
			focused: el.getRootNode().activeElement === el,
			children: [],
			shadow: null,
		};
		out.push(n);
		if (el.shadowRoot) {
			n.shadow = Array.from(el.shadowRoot.children, c => visit(c, i));
		}
		for (const c of el.children) n.children.push(visit(c, i));
		return i;
	};
	if (document.documentElement) visit(document.documentElement, -1);
	return JSON.stringify({ url: location.href, nodes: out });
}`

const viewportJS = `() => {
	const de = document.documentElement;
	const vv = window.visualViewport;
	return JSON.stringify({
		layoutWidth: de ? de.clientWidth : 0,
		layoutHeight: de ? de.clientHeight : 0,
		scrollX: window.scrollX,
		scrollY: window.scrollY,
		offsetLeft: vv ? vv.offsetLeft : 0,
		offsetTop: vv ? vv.offsetTop : 0,
		width: vv ? vv.width : 0,
		height: vv ? vv.height : 0,
		scale: vv ? vv.scale : 1,
	});
}`

type snapshotStyle struct {
	Display    string     `json:"display"`
	Visibility string     `json:"visibility"`
	Opacity    float64    `json:"opacity"`
	Position   string     `json:"position"`
	OverflowX  string     `json:"overflowX"`
	OverflowY  string     `json:"overflowY"`
	Cursor     string     `json:"cursor"`
	BoxSizing  string     `json:"boxSizing"`
	Border     [4]float64 `json:"border"`
	Padding    [4]string  `json:"padding"`
}

type snapshotNode struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs"`
	Parent   int               `json:"parent"`
	Style    snapshotStyle     `json:"style"`
	Rects    [][4]float64      `json:"rects"`
	Bounds   [4]float64        `json:"bounds"`
	Scroll   [4]float64        `json:"scroll"`
	Editable bool              `json:"editable"`
	Focused  bool              `json:"focused"`
	Children []int             `json:"children"`
	Shadow   []int             `json:"shadow"`
}

type snapshot struct {
	URL   string         `json:"url"`
	Nodes []snapshotNode `json:"nodes"`
}

type viewportMetrics struct {
	LayoutWidth  float64 `json:"layoutWidth"`
	LayoutHeight float64 `json:"layoutHeight"`
	ScrollX      float64 `json:"scrollX"`
	ScrollY      float64 `json:"scrollY"`
	OffsetLeft   float64 `json:"offsetLeft"`
	OffsetTop    float64 `json:"offsetTop"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Scale        float64 `json:"scale"`
}

func (v viewportMetrics) state() dom.ViewportState {
	return dom.ViewportState{
		LayoutWidth:      v.LayoutWidth,
		LayoutHeight:     v.LayoutHeight,
		ScrollX:          v.ScrollX,
		ScrollY:          v.ScrollY,
		VisualOffsetLeft: v.OffsetLeft,
		VisualOffsetTop:  v.OffsetTop,
		VisualWidth:      v.Width,
		VisualHeight:     v.Height,
		VisualScale:      v.Scale,
	}
}

// decodeSnapshot parses the snapshot script's output and checks its indices.
func decodeSnapshot(raw string) (*snapshot, error) {
	var s snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	n := len(s.Nodes)
	valid := func(i int) bool { return i >= 0 && i < n }
	for i, node := range s.Nodes {
		if node.Parent != -1 && !valid(node.Parent) {
			return nil, fmt.Errorf("decode snapshot: node %d has parent %d", i, node.Parent)
		}
		for _, c := range append(append([]int(nil), node.Children...), node.Shadow...) {
			if !valid(c) || c <= i {
				return nil, fmt.Errorf("decode snapshot: node %d has child %d", i, c)
			}
		}
	}
	return &s, nil
}

// FrameDocument is a dom.Document over one frame of a live page. Geometry and style
// come from a single snapshot taken on first use; hit tests, viewport metrics and
// every mutation go to the page. Element values stay valid for the document's
// lifetime, so take a new FrameDocument for every hint session.
type FrameDocument struct {
	ctx  context.Context
	page *rod.Page
	log  logrus.FieldLogger

	once     sync.Once
	snap     *snapshot
	elements []*frameElement

	mu      sync.Mutex
	matches map[string][]bool
	frames  map[int]*FrameDocument
}

var _ dom.Document = (*FrameDocument)(nil)

// NewFrameDocument wraps page. ctx bounds the calls made by methods that take none.
func NewFrameDocument(ctx context.Context, page *rod.Page, log logrus.FieldLogger) *FrameDocument {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FrameDocument{
		ctx:     ctx,
		page:    page,
		log:     log,
		matches: make(map[string][]bool),
		frames:  make(map[int]*FrameDocument),
	}
}

func (d *FrameDocument) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// load takes the snapshot once. A frame that cannot be read yields an empty tree.
func (d *FrameDocument) load() {
	d.once.Do(func() {
		res, err := d.eval(d.ctx, snapshotJS)
		if err == nil {
			d.snap, err = decodeSnapshot(res.Value.Str())
		}
		if err != nil {
			d.log.WithError(err).Warn("frame snapshot failed")
			d.snap = &snapshot{}
		}
		d.elements = buildElements(d, d.snap)
	})
}

func buildElements(d *FrameDocument, s *snapshot) []*frameElement {
	out := make([]*frameElement, len(s.Nodes))
	for i := range s.Nodes {
		out[i] = &frameElement{doc: d, i: i, node: &s.Nodes[i]}
	}
	return out
}

func (d *FrameDocument) element(i int) dom.Element {
	if i < 0 || i >= len(d.elements) {
		return nil
	}
	return d.elements[i]
}

func (d *FrameDocument) URL() string {
	d.load()
	return d.snap.URL
}

func (d *FrameDocument) DocumentElement() dom.Element {
	d.load()
	return d.element(0)
}

func (d *FrameDocument) ImagesForMap(name string) []dom.Element {
	d.load()
	var out []dom.Element
	for _, el := range d.elements {
		if el.node.Tag == "img" && el.node.Attrs["usemap"] == "#"+name {
			out = append(out, el)
		}
	}
	return out
}

func (d *FrameDocument) ElementFromPoint(x, y float64) dom.Element {
	d.load()
	res, err := d.eval(d.ctx, `(x, y) => {
		const reg = window.__hintnav;
		const el = document.elementFromPoint(x, y);
		if (!reg || !el) return -1;
		const i = reg.index.get(el);
		return i === undefined ? -1 : i;
	}`, x, y)
	if err != nil {
		d.log.WithError(err).Debug("elementFromPoint")
		return nil
	}
	return d.element(res.Value.Int())
}

// Viewport reads the metrics live; they may change between calls.
func (d *FrameDocument) Viewport() dom.ViewportState {
	res, err := d.eval(d.ctx, viewportJS)
	if err != nil {
		d.log.WithError(err).Debug("read viewport")
		return dom.ViewportState{VisualScale: 1}
	}
	var v viewportMetrics
	if err := json.Unmarshal([]byte(res.Value.Str()), &v); err != nil {
		d.log.WithError(err).Debug("decode viewport")
		return dom.ViewportState{VisualScale: 1}
	}
	return v.state()
}

func (d *FrameDocument) NextFrame(ctx context.Context) error {
	_, err := d.eval(ctx, `() => new Promise(r => requestAnimationFrame(() => r()))`)
	return err
}

// matchAll answers selector for every node with one evaluation.
func (d *FrameDocument) matchAll(selector string) []bool {
	d.mu.Lock()
	cached, ok := d.matches[selector]
	d.mu.Unlock()
	if ok {
		return cached
	}
	var out []bool
	res, err := d.eval(d.ctx, `(sel) => {
		const reg = window.__hintnav;
		if (!reg) return "[]";
		return JSON.stringify(reg.nodes.map(n => { try { return n.matches(sel); } catch (e) { return false; } }));
	}`, selector)
	if err == nil {
		err = json.Unmarshal([]byte(res.Value.Str()), &out)
	}
	if err != nil {
		d.log.WithError(err).WithField("selector", selector).Debug("match selector")
		out = nil
	}
	d.mu.Lock()
	d.matches[selector] = out
	d.mu.Unlock()
	return out
}

// childFrame resolves the document of iframe element i, memoized so the bus sees the
// same document every time.
func (d *FrameDocument) childFrame(i int) *FrameDocument {
	d.mu.Lock()
	if fd, ok := d.frames[i]; ok {
		d.mu.Unlock()
		return fd
	}
	d.mu.Unlock()

	fd, err := d.resolveFrame(i)
	if err != nil {
		d.log.WithError(err).WithField("node", i).Debug("iframe unreachable")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.frames[i]; ok {
		return prev
	}
	d.frames[i] = fd
	return fd
}

func (d *FrameDocument) resolveFrame(i int) (*FrameDocument, error) {
	ctx, cancel := context.WithTimeout(d.ctx, callTimeout)
	defer cancel()
	page := d.page.Context(ctx)
	res, err := page.Evaluate(&rod.EvalOptions{
		JS:     `(i) => window.__hintnav ? window.__hintnav.nodes[i] : null`,
		JSArgs: []interface{}{i},
	})
	if err != nil {
		return nil, err
	}
	if res.ObjectID == "" {
		return nil, errStaleNode
	}
	el, err := page.ElementFromObject(res)
	if err != nil {
		return nil, err
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, err
	}
	// The clone carries the short timeout; the child runs on the document's context.
	return NewFrameDocument(d.ctx, frame.Context(d.ctx), d.log), nil
}

// frameElement is one snapshot node.
type frameElement struct {
	doc    *FrameDocument
	i      int
	node   *snapshotNode
	shadow *frameShadow
}

var _ dom.Element = (*frameElement)(nil)

func (e *frameElement) TagName() string { return e.node.Tag }

func (e *frameElement) Attribute(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := e.node.Attrs[strings.ToLower(name)]
	return v, ok
}

func (e *frameElement) Style() dom.Style {
	s := e.node.Style
	return dom.Style{
		Display:       s.Display,
		Visibility:    s.Visibility,
		Opacity:       s.Opacity,
		Position:      s.Position,
		OverflowX:     s.OverflowX,
		OverflowY:     s.OverflowY,
		Cursor:        s.Cursor,
		BoxSizing:     s.BoxSizing,
		BorderTop:     s.Border[0],
		BorderRight:   s.Border[1],
		BorderBottom:  s.Border[2],
		BorderLeft:    s.Border[3],
		PaddingTop:    s.Padding[0],
		PaddingRight:  s.Padding[1],
		PaddingBottom: s.Padding[2],
		PaddingLeft:   s.Padding[3],
	}
}

func borderRect(r [4]float64) geom.Rect {
	return geom.NewRect(r[0], r[1], r[2], r[3], geom.ElementBorder, geom.LayoutViewport)
}

func (e *frameElement) ClientRects() []geom.Rect {
	out := make([]geom.Rect, len(e.node.Rects))
	for i, r := range e.node.Rects {
		out[i] = borderRect(r)
	}
	return out
}

func (e *frameElement) BoundingClientRect() geom.Rect { return borderRect(e.node.Bounds) }

func (e *frameElement) Scroll() dom.Scroll {
	s := e.node.Scroll
	return dom.Scroll{ScrollWidth: s[0], ScrollHeight: s[1], ClientWidth: s[2], ClientHeight: s[3]}
}

func (e *frameElement) IsContentEditable() bool { return e.node.Editable }

func (e *frameElement) IsFocused() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.node.Focused
}

func (e *frameElement) Matches(selector string) bool {
	all := e.doc.matchAll(selector)
	return e.i < len(all) && all[e.i]
}

func (e *frameElement) Parent() dom.Element { return e.doc.element(e.node.Parent) }

func (e *frameElement) Children() []dom.Element {
	return e.doc.list(e.node.Children)
}

func (d *FrameDocument) list(idx []int) []dom.Element {
	out := make([]dom.Element, 0, len(idx))
	for _, i := range idx {
		if el := d.element(i); el != nil {
			out = append(out, el)
		}
	}
	return out
}

func (e *frameElement) ShadowRoot() dom.ShadowRoot {
	if e.node.Shadow == nil {
		return nil
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.shadow == nil {
		e.shadow = &frameShadow{host: e}
	}
	return e.shadow
}

func (e *frameElement) ContentDocument() dom.Document {
	if e.node.Tag != "iframe" && e.node.Tag != "frame" {
		return nil
	}
	if fd := e.doc.childFrame(e.i); fd != nil {
		return fd
	}
	return nil
}

// run calls fn(node, ...args) in the page and returns its value.
func (e *frameElement) run(ctx context.Context, body string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	js := `(i, ...args) => {
		const reg = window.__hintnav;
		const n = reg && reg.nodes[i];
		if (!n || !n.isConnected) return "` + errStaleNode.Error() + `";
		return (` + body + `)(n, ...args);
	}`
	res, err := e.doc.eval(ctx, js, append([]interface{}{e.i}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("<%s> #%d: %w", e.node.Tag, e.i, err)
	}
	if res.Value.Str() == errStaleNode.Error() {
		return nil, fmt.Errorf("<%s> #%d: %w", e.node.Tag, e.i, errStaleNode)
	}
	return res, nil
}

func (e *frameElement) Focus(ctx context.Context) error {
	res, err := e.run(ctx, `n => { n.focus(); return n.getRootNode().activeElement === n; }`)
	if err != nil {
		return err
	}
	e.doc.mu.Lock()
	e.node.Focused = res.Value.Bool()
	e.doc.mu.Unlock()
	return nil
}

func (e *frameElement) Blur(ctx context.Context) error {
	if _, err := e.run(ctx, `n => { n.blur(); return true; }`); err != nil {
		return err
	}
	e.doc.mu.Lock()
	e.node.Focused = false
	e.doc.mu.Unlock()
	return nil
}

func (e *frameElement) ShowPicker(ctx context.Context) error {
	_, err := e.run(ctx, `n => { if (typeof n.showPicker === "function") n.showPicker(); return true; }`)
	return err
}

func (e *frameElement) SetAttribute(ctx context.Context, name, value string) error {
	if _, err := e.run(ctx, `(n, k, v) => { n.setAttribute(k, v); return true; }`, name, value); err != nil {
		return err
	}
	e.doc.mu.Lock()
	if e.node.Attrs == nil {
		e.node.Attrs = make(map[string]string)
	}
	e.node.Attrs[strings.ToLower(name)] = value
	e.doc.mu.Unlock()
	return nil
}

func (e *frameElement) RemoveAttribute(ctx context.Context, name string) error {
	if _, err := e.run(ctx, `(n, k) => { n.removeAttribute(k); return true; }`, name); err != nil {
		return err
	}
	e.doc.mu.Lock()
	delete(e.node.Attrs, strings.ToLower(name))
	e.doc.mu.Unlock()
	return nil
}

func (e *frameElement) DispatchMouseEvent(ctx context.Context, ev dom.MouseEvent) (bool, error) {
	res, err := e.run(ctx, `(n, ev) => n.dispatchEvent(new MouseEvent(ev.type, {
		bubbles: true,
		cancelable: true,
		composed: true,
		view: window,
		detail: 1,
		clientX: ev.clientX,
		clientY: ev.clientY,
		shiftKey: ev.shiftKey,
		altKey: ev.altKey,
		ctrlKey: ev.ctrlKey,
		metaKey: ev.metaKey,
	}))`, mouseEventArg(ev))
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func mouseEventArg(ev dom.MouseEvent) map[string]interface{} {
	return map[string]interface{}{
		"type":     ev.Type,
		"clientX":  ev.ClientX,
		"clientY":  ev.ClientY,
		"shiftKey": ev.ShiftKey,
		"altKey":   ev.AltKey,
		"ctrlKey":  ev.CtrlKey,
		"metaKey":  ev.MetaKey,
	}
}

func (e *frameElement) String() string { return "<" + e.node.Tag + ">#" + strconv.Itoa(e.i) }

// frameShadow is the open shadow root of a snapshot node.
type frameShadow struct {
	host *frameElement
}

var _ dom.ShadowRoot = (*frameShadow)(nil)

func (s *frameShadow) Children() []dom.Element { return s.host.doc.list(s.host.node.Shadow) }

func (s *frameShadow) ElementFromPoint(x, y float64) dom.Element {
	d := s.host.doc
	res, err := d.eval(d.ctx, `(i, x, y) => {
		const reg = window.__hintnav;
		const host = reg && reg.nodes[i];
		const el = host && host.shadowRoot && host.shadowRoot.elementFromPoint(x, y);
		if (!el) return -1;
		const j = reg.index.get(el);
		return j === undefined ? -1 : j;
	}`, s.host.i, x, y)
	if err != nil {
		d.log.WithError(err).Debug("shadow elementFromPoint")
		return nil
	}
	return d.element(res.Value.Int())
}
