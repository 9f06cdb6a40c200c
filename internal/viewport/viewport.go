// Package viewport reads the three viewport kinds of a frame.
//
// Layout viewport: the scrollable document window. Visual viewport: the pinch-zoomed
// visible part of the layout viewport. Actual viewport: a frame's visible area after
// cropping by every ancestor frame; for the root frame it equals the visual viewport,
// for child frames it is composed by the aggregator while descending.
//
// Every accessor reads the document at call time. Nothing is cached because the
// values can change between any two calls.
package viewport

import (
	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/geom"
)

// Layout returns the layout viewport measured from itself.
func Layout(doc dom.Document) geom.Rect {
	v := doc.Viewport()
	return geom.NewRect(0, 0, v.LayoutWidth, v.LayoutHeight, geom.LayoutViewport, geom.LayoutViewport)
}

// Visual returns the visual viewport measured from the layout viewport.
func Visual(doc dom.Document) geom.Rect {
	v := doc.Viewport()
	w, h := v.VisualWidth, v.VisualHeight
	if w <= 0 || h <= 0 {
		w, h = v.LayoutWidth, v.LayoutHeight
	}
	return geom.NewRect(v.VisualOffsetLeft, v.VisualOffsetTop, w, h, geom.VisualViewport, geom.LayoutViewport)
}

// LayoutFromInitialContainingBlock locates the layout viewport inside the document
// (the scroll offset).
func LayoutFromInitialContainingBlock(doc dom.Document) geom.Point {
	v := doc.Viewport()
	return geom.NewPoint(v.ScrollX, v.ScrollY, geom.LayoutViewport, geom.InitialContainingBlock)
}

// VisualFromLayout locates the visual viewport inside the layout viewport.
func VisualFromLayout(doc dom.Document) geom.Point {
	return Visual(doc).TopLeft(geom.VisualViewport)
}

// RootActual returns the root frame's actual viewport measured from its layout
// viewport.
func RootActual(doc dom.Document) geom.Rect {
	return Visual(doc).Retag(geom.ActualViewport)
}

// RootOffsets locates the root frame's layout viewport inside the root viewport.
// The root viewport shares the root layout viewport's origin.
func RootOffsets() geom.Point {
	return geom.NewPoint(0, 0, geom.LayoutViewport, geom.RootViewport)
}
