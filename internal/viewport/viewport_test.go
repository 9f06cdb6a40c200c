package viewport

import (
	"testing"

	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/dom/domtest"
	"hintnav-mcp-server/internal/geom"
)

func TestViewports(t *testing.T) {
	doc := domtest.Parse("https://example.com/", `<html><body></body></html>`)
	doc.SetViewport(dom.ViewportState{
		LayoutWidth: 800, LayoutHeight: 600,
		ScrollX: 10, ScrollY: 400,
		VisualOffsetLeft: 50, VisualOffsetTop: 60,
		VisualWidth: 400, VisualHeight: 300,
		VisualScale: 2,
	})

	layout := Layout(doc)
	if layout != geom.NewRect(0, 0, 800, 600, geom.LayoutViewport, geom.LayoutViewport) {
		t.Errorf("layout = %v", layout)
	}

	visual := Visual(doc)
	if visual != geom.NewRect(50, 60, 400, 300, geom.VisualViewport, geom.LayoutViewport) {
		t.Errorf("visual = %v", visual)
	}

	actual := RootActual(doc)
	if actual.Type != geom.ActualViewport || actual.Origin != geom.LayoutViewport || actual.Width != 400 {
		t.Errorf("actual = %v", actual)
	}

	scroll := LayoutFromInitialContainingBlock(doc)
	if scroll.X != 10 || scroll.Y != 400 || scroll.Origin != geom.InitialContainingBlock {
		t.Errorf("scroll = %+v", scroll)
	}

	vp := VisualFromLayout(doc)
	if vp.X != 50 || vp.Y != 60 || vp.Type != geom.VisualViewport {
		t.Errorf("visual offset = %+v", vp)
	}
}

func TestVisualFallsBackToLayout(t *testing.T) {
	doc := domtest.Parse("https://example.com/", `<html><body></body></html>`)
	doc.SetViewport(dom.ViewportState{LayoutWidth: 640, LayoutHeight: 480})

	got := Visual(doc)
	if got.Width != 640 || got.Height != 480 {
		t.Errorf("visual = %v, want layout size", got)
	}
}

func TestReadsAreNotCached(t *testing.T) {
	doc := domtest.Parse("https://example.com/", `<html><body></body></html>`)
	first := Layout(doc)
	doc.SetViewport(dom.ViewportState{LayoutWidth: 10, LayoutHeight: 10})
	second := Layout(doc)
	if first == second {
		t.Error("expected a fresh snapshot after the viewport changed")
	}
}
