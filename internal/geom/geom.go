// Package geom implements tagged rectangles and points.
//
// Every value carries two tags: Type says what the geometry measures (an element
// border box, a viewport, ...) and Origin says which coordinate system the numbers are
// measured from. Combining values whose tags do not line up is a programming error
// and panics.
package geom

import (
	"fmt"
	"math"
)

// Space names a coordinate space or a measured box.
type Space int

const (
	LayoutViewport Space = iota + 1
	VisualViewport
	ActualViewport
	RootViewport
	InitialContainingBlock
	ElementBorder
	ElementPadding
	ElementContent
	PointSpace
)

var spaceNames = map[Space]string{
	LayoutViewport:         "layout-viewport",
	VisualViewport:         "visual-viewport",
	ActualViewport:         "actual-viewport",
	RootViewport:           "root-viewport",
	InitialContainingBlock: "initial-containing-block",
	ElementBorder:          "element-border",
	ElementPadding:         "element-padding",
	ElementContent:         "element-content",
	PointSpace:             "point",
}

func (s Space) String() string {
	if n, ok := spaceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("space(%d)", int(s))
}

// Rect is an axis-aligned rectangle tagged with (Type, Origin).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Type   Space   `json:"-"`
	Origin Space   `json:"-"`
}

// NewRect builds a rect from position and size.
func NewRect(x, y, w, h float64, typ, origin Space) Rect {
	return Rect{X: x, Y: y, Width: w, Height: h, Type: typ, Origin: origin}
}

// FromEdges builds a rect from its four edges.
func FromEdges(left, top, right, bottom float64, typ, origin Space) Rect {
	return Rect{X: left, Y: top, Width: right - left, Height: bottom - top, Type: typ, Origin: origin}
}

func (r Rect) Left() float64   { return r.X }
func (r Rect) Top() float64    { return r.Y }
func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Center returns the centre of the rect as a point in the rect's origin.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Contains reports whether (x, y) lies inside the rect, right/bottom edges excluded.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left() && x < r.Right() && y >= r.Top() && y < r.Bottom()
}

// Retag returns a copy with a different Type. Origin is unchanged.
func (r Rect) Retag(typ Space) Rect {
	r.Type = typ
	return r
}

// Round snaps all values to the nearest integer pixel. Used only for rendering.
func (r Rect) Round() Rect {
	r.X = math.Round(r.X)
	r.Y = math.Round(r.Y)
	r.Width = math.Round(r.Width)
	r.Height = math.Round(r.Height)
	return r
}

func (r Rect) String() string {
	return fmt.Sprintf("Rect<%s,%s>{%g,%g %gx%g}", r.Type, r.Origin, r.X, r.Y, r.Width, r.Height)
}

// Point locates the origin of space Type inside space Origin.
type Point struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Type   Space   `json:"-"`
	Origin Space   `json:"-"`
}

// NewPoint builds a tagged point.
func NewPoint(x, y float64, typ, origin Space) Point {
	return Point{X: x, Y: y, Type: typ, Origin: origin}
}

// Reverse inverts the point: the origin of Origin inside Type.
func (p Point) Reverse() Point {
	return Point{X: -p.X, Y: -p.Y, Type: p.Origin, Origin: p.Type}
}

// Add composes two points. p locates A inside B and q locates B inside C; the result
// locates A inside C.
func (p Point) Add(q Point) Point {
	if p.Origin != q.Type {
		panic(fmt.Sprintf("geom: cannot compose %s->%s with %s->%s", p.Type, p.Origin, q.Type, q.Origin))
	}
	return Point{X: p.X + q.X, Y: p.Y + q.Y, Type: p.Type, Origin: q.Origin}
}

// TopLeft returns the rect's top-left corner as the location of space typ in r.Origin.
func (r Rect) TopLeft(typ Space) Point {
	return Point{X: r.X, Y: r.Y, Type: typ, Origin: r.Origin}
}

// Offsets translates r by p. p must locate r's origin; the result is measured from
// p.Origin. The rect's Type never changes.
func Offsets(r Rect, p Point) Rect {
	if p.Type != r.Origin {
		panic(fmt.Sprintf("geom: offset %s->%s does not apply to %s", p.Type, p.Origin, r))
	}
	r.X += p.X
	r.Y += p.Y
	r.Origin = p.Origin
	return r
}

// Move is Offsets under the name used by callers translating rect sets.
func Move(r Rect, d Point) Rect { return Offsets(r, d) }

// MoveAll translates every rect by d.
func MoveAll(rs []Rect, d Point) []Rect {
	out := make([]Rect, len(rs))
	for i, r := range rs {
		out[i] = Offsets(r, d)
	}
	return out
}

// Intersection returns the overlap of a and b. Touching rects do not overlap.
// Both must share an origin; the result keeps a's Type.
func Intersection(a, b Rect) (Rect, bool) {
	if a.Origin != b.Origin {
		panic(fmt.Sprintf("geom: cannot intersect %s with %s", a, b))
	}
	left := math.Max(a.Left(), b.Left())
	right := math.Min(a.Right(), b.Right())
	top := math.Max(a.Top(), b.Top())
	bottom := math.Min(a.Bottom(), b.Bottom())
	if left >= right || top >= bottom {
		return Rect{}, false
	}
	return FromEdges(left, top, right, bottom, a.Type, a.Origin), true
}

// Intersects reports whether a and b overlap.
func Intersects(a, b Rect) bool {
	_, ok := Intersection(a, b)
	return ok
}

// BoundRects returns the smallest rect containing all inputs. All inputs must carry
// the same tags and at least one is required.
func BoundRects(rs ...Rect) Rect {
	if len(rs) == 0 {
		panic("geom: BoundRects needs at least one rect")
	}
	first := rs[0]
	left, top, right, bottom := first.Left(), first.Top(), first.Right(), first.Bottom()
	for _, r := range rs[1:] {
		if r.Type != first.Type || r.Origin != first.Origin {
			panic(fmt.Sprintf("geom: cannot bound %s with %s", first, r))
		}
		left = math.Min(left, r.Left())
		top = math.Min(top, r.Top())
		right = math.Max(right, r.Right())
		bottom = math.Max(bottom, r.Bottom())
	}
	return FromEdges(left, top, right, bottom, first.Type, first.Origin)
}

// Pad grows r by n on every side.
func Pad(r Rect, n float64) Rect {
	return Rect{X: r.X - n, Y: r.Y - n, Width: r.Width + 2*n, Height: r.Height + 2*n, Type: r.Type, Origin: r.Origin}
}

// Sides holds per-side widths (borders, padding).
type Sides struct {
	Top, Right, Bottom, Left float64
}

// CropByBorders shrinks r by the given side widths and retags it as typ.
func CropByBorders(r Rect, s Sides, typ Space) Rect {
	return Rect{
		X:      r.X + s.Left,
		Y:      r.Y + s.Top,
		Width:  r.Width - s.Left - s.Right,
		Height: r.Height - s.Top - s.Bottom,
		Type:   typ,
		Origin: r.Origin,
	}
}

// Bond merges rect into set: any member that intersects rect is absorbed into the
// bounding box, repeatedly, until no member intersects the grown rect. Rects that
// intersect nothing are appended.
func Bond(set []Rect, rect Rect) []Rect {
	merged := rect
	for {
		rest := set[:0:0]
		grew := false
		for _, r := range set {
			if Intersects(r, merged) {
				merged = BoundRects(merged.Retag(r.Type), r)
				grew = true
				continue
			}
			rest = append(rest, r)
		}
		set = rest
		if !grew {
			break
		}
	}
	return append(set, merged)
}
