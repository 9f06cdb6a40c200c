// Package detector decides which rectangles of an element are visible and reachable
// by the pointer.
//
// A Detector belongs to one aggregation round in one frame. It memoizes two things per
// element: the visible area (viewport cropping plus transitive ancestor clipping) and
// the final detection (visible area confirmed by hit-test probes). Construct a new
// Detector for every round so nothing leaks between rounds.
package detector

import (
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/geom"
)

const (
	// DefaultMinSize is the smallest width or height worth hinting, in CSS pixels.
	DefaultMinSize = 3
	// DefaultProbeInset keeps corner probes inside the rect.
	DefaultProbeInset = 1
)

// Options tunes a Detector.
type Options struct {
	MinSize    float64
	ProbeInset float64
	Logger     logrus.FieldLogger
}

func (o *Options) defaults() {
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.ProbeInset <= 0 {
		o.ProbeInset = DefaultProbeInset
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Detector computes visible element rects for one frame and one round.
type Detector struct {
	doc      dom.Document
	viewport geom.Rect
	opts     Options

	visible  map[dom.Element][]geom.Rect
	detected map[dom.Element][]geom.Rect
}

// New returns a detector cropping to actual, the frame's actual viewport measured from
// its layout viewport.
func New(doc dom.Document, actual geom.Rect, opts Options) *Detector {
	opts.defaults()
	return &Detector{
		doc:      doc,
		viewport: actual,
		opts:     opts,
		visible:  make(map[dom.Element][]geom.Rect),
		detected: make(map[dom.Element][]geom.Rect),
	}
}

// Viewport returns the actual viewport this detector crops to.
func (d *Detector) Viewport() geom.Rect { return d.viewport }

// Detect returns the element-border rects of el that are visible inside the actual
// viewport and reachable by the pointer, measured from the layout viewport.
func (d *Detector) Detect(el dom.Element) []geom.Rect {
	if rs, ok := d.detected[el]; ok {
		return rs
	}
	rs := d.VisibleArea(el)
	if len(rs) > 0 && el.TagName() != "area" {
		rs = d.reachable(el, rs)
	}
	d.detected[el] = rs
	return rs
}

// VisibleArea returns el's rects after viewport cropping and ancestor clipping,
// without hit-testing.
func (d *Detector) VisibleArea(el dom.Element) []geom.Rect {
	if rs, ok := d.visible[el]; ok {
		return rs
	}
	// Seed the cache so a malformed (cyclic) parent chain terminates.
	d.visible[el] = nil

	var out []geom.Rect
	if !el.Style().Hidden() {
		if el.TagName() == "area" {
			out = d.areaVisible(el)
		} else {
			out = d.cropToViewport(el.ClientRects())
			if len(out) > 0 {
				out = d.clipByAncestors(el, out)
			}
		}
	}
	d.visible[el] = out
	return out
}

func (d *Detector) tooSmall(r geom.Rect) bool {
	return r.Width < d.opts.MinSize || r.Height < d.opts.MinSize
}

func (d *Detector) cropToViewport(raw []geom.Rect) []geom.Rect {
	var out []geom.Rect
	for _, r := range raw {
		if d.tooSmall(r) {
			continue
		}
		c, ok := geom.Intersection(r, d.viewport)
		if !ok || d.tooSmall(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// clipByAncestors walks up from subject. A fixed subject is unaffected by ancestor
// scrolling. Absolute and sticky subjects, and parents whose overflow is visible, are
// passed through without clipping. The first clipping parent contributes its own
// visible area, which already includes every clip above it.
func (d *Detector) clipByAncestors(subject dom.Element, rects []geom.Rect) []geom.Rect {
	for {
		st := subject.Style()
		if st.Position == "fixed" {
			return rects
		}
		parent := subject.Parent()
		if parent == nil || dom.IsDocumentBoundary(parent) {
			return rects
		}
		if st.Position == "absolute" || st.Position == "sticky" || parent.Style().OverflowVisible() {
			subject = parent
			continue
		}
		clip := d.VisibleArea(parent)
		var out []geom.Rect
		for _, r := range rects {
			for _, c := range clip {
				if x, ok := geom.Intersection(r, c); ok {
					out = append(out, x)
				}
			}
		}
		return out
	}
}

// reachable keeps the rects where at least one probe lands on el or a descendant.
func (d *Detector) reachable(el dom.Element, rects []geom.Rect) []geom.Rect {
	var out []geom.Rect
	for _, r := range rects {
		for _, p := range d.probes(r) {
			hit := dom.DeepElementFromPoint(d.doc, p[0], p[1])
			if hit != nil && dom.Contains(el, hit) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func (d *Detector) probes(r geom.Rect) [][2]float64 {
	in := math.Min(d.opts.ProbeInset, math.Min(r.Width, r.Height)/2)
	cx, cy := r.Center()
	return [][2]float64{
		{cx, cy},
		{r.Left() + in, r.Top() + in},
		{r.Right() - in, r.Top() + in},
		{r.Left() + in, r.Bottom() - in},
		{r.Right() - in, r.Bottom() - in},
	}
}

// areaVisible derives an <area>'s phantom geometry from every image using its map.
// Each image clips the shape by its own ancestors.
func (d *Detector) areaVisible(area dom.Element) []geom.Rect {
	m := area.Parent()
	for m != nil && m.TagName() != "map" {
		m = m.Parent()
	}
	if m == nil {
		d.opts.Logger.WithField("tag", "area").Warn("area outside of a map element")
		return nil
	}
	name, _ := m.Attribute("name")
	if name == "" {
		name, _ = m.Attribute("id")
	}
	if name == "" {
		return nil
	}

	var out []geom.Rect
	for _, img := range d.doc.ImagesForMap(name) {
		if img.Style().Hidden() {
			continue
		}
		r, ok := d.areaShape(area, img.BoundingClientRect())
		if !ok {
			continue
		}
		rs := d.cropToViewport([]geom.Rect{r})
		if len(rs) > 0 {
			out = append(out, d.clipByAncestors(img, rs)...)
		}
	}
	return out
}

// areaShape maps shape/coords onto the image box. Circles use the inscribed square and
// polygons their bounding box.
func (d *Detector) areaShape(area dom.Element, img geom.Rect) (geom.Rect, bool) {
	shape, _ := area.Attribute("shape")
	shape = strings.ToLower(strings.TrimSpace(shape))
	raw, _ := area.Attribute("coords")
	coords, err := parseCoords(raw)
	log := d.opts.Logger.WithFields(logrus.Fields{"shape": shape, "coords": raw})
	if err != nil {
		log.WithError(err).Warn("unparsable area coords")
		return geom.Rect{}, false
	}

	at := func(left, top, right, bottom float64) geom.Rect {
		return geom.FromEdges(img.X+left, img.Y+top, img.X+right, img.Y+bottom, geom.ElementBorder, img.Origin)
	}

	switch shape {
	case "default":
		return img.Retag(geom.ElementBorder), true
	case "", "rect", "rectangle":
		if len(coords) < 4 {
			log.Warn("rect area needs four coords")
			return geom.Rect{}, false
		}
		return at(math.Min(coords[0], coords[2]), math.Min(coords[1], coords[3]),
			math.Max(coords[0], coords[2]), math.Max(coords[1], coords[3])), true
	case "circle", "circ":
		if len(coords) < 3 {
			log.Warn("circle area needs three coords")
			return geom.Rect{}, false
		}
		half := coords[2] * math.Sqrt2 / 2
		return at(coords[0]-half, coords[1]-half, coords[0]+half, coords[1]+half), true
	case "poly", "polygon":
		if len(coords) < 2 {
			log.Warn("poly area needs at least one point")
			return geom.Rect{}, false
		}
		left, top := coords[0], coords[1]
		right, bottom := left, top
		for i := 0; i+1 < len(coords); i += 2 {
			left = math.Min(left, coords[i])
			right = math.Max(right, coords[i])
			top = math.Min(top, coords[i+1])
			bottom = math.Max(bottom, coords[i+1])
		}
		return at(left, top, right, bottom), true
	default:
		log.Warn("unknown area shape")
		return geom.Rect{}, false
	}
}

func parseCoords(raw string) ([]float64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
