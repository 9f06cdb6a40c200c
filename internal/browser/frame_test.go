package browser

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/geom"
	"hintnav-mcp-server/internal/hint"
)

const sampleSnapshot = `{
	"url": "https://example.test/",
	"nodes": [
		{"tag": "html", "attrs": {}, "parent": -1, "style": {"display": "block", "opacity": 1},
		 "rects": [[0, 0, 800, 600]], "bounds": [0, 0, 800, 600], "scroll": [800, 1200, 800, 600],
		 "children": [1], "shadow": null},
		{"tag": "body", "attrs": {}, "parent": 0, "style": {"display": "block", "opacity": 1},
		 "rects": [[8, 8, 784, 584]], "bounds": [8, 8, 784, 584], "scroll": [784, 584, 784, 584],
		 "children": [2, 4, 5], "shadow": null},
		{"tag": "x-card", "attrs": {"id": "card"}, "parent": 1, "style": {"display": "block", "opacity": 1},
		 "rects": [[8, 8, 200, 40]], "bounds": [8, 8, 200, 40], "scroll": [200, 40, 200, 40],
		 "children": [], "shadow": [3]},
		{"tag": "button", "attrs": {"type": "button"}, "parent": 2,
		 "style": {"display": "inline-block", "visibility": "visible", "opacity": 1, "cursor": "pointer",
		           "border": [1, 2, 3, 4], "padding": ["1px", "2px", "3px", "4px"]},
		 "rects": [[10, 10, 60, 20]], "bounds": [10, 10, 60, 20], "scroll": [60, 20, 58, 18],
		 "focused": true, "children": [], "shadow": null},
		{"tag": "img", "attrs": {"usemap": "#nav", "src": "a.png"}, "parent": 1, "style": {"display": "inline", "opacity": 1},
		 "rects": [[8, 60, 100, 100]], "bounds": [8, 60, 100, 100], "scroll": [0, 0, 0, 0],
		 "children": [], "shadow": null},
		{"tag": "div", "attrs": {"contenteditable": "true"}, "parent": 1, "style": {"display": "none", "opacity": 1},
		 "rects": [], "bounds": [0, 0, 0, 0], "scroll": [0, 0, 0, 0], "editable": true,
		 "children": [], "shadow": null}
	]
}`

// loadedDocument returns a document backed by a decoded snapshot and no page.
func loadedDocument(t *testing.T, raw string) *FrameDocument {
	t.Helper()
	s, err := decodeSnapshot(raw)
	if err != nil {
		t.Fatalf("decodeSnapshot failed: %v", err)
	}
	logger, _ := logtest.NewNullLogger()
	d := NewFrameDocument(context.Background(), nil, logger)
	d.once.Do(func() {
		d.snap = s
		d.elements = buildElements(d, s)
	})
	return d
}

func TestDecodeSnapshotRejectsBadIndices(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"parent out of range", `{"nodes": [{"tag": "html", "parent": 3}]}`},
		{"child out of range", `{"nodes": [{"tag": "html", "parent": -1, "children": [1]}]}`},
		{"child before parent", `{"nodes": [{"tag": "html", "parent": -1, "children": [1]}, {"tag": "body", "parent": 0, "shadow": [0]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeSnapshot(tt.raw); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFrameDocumentTree(t *testing.T) {
	d := loadedDocument(t, sampleSnapshot)

	if d.URL() != "https://example.test/" {
		t.Errorf("URL = %q", d.URL())
	}
	root := d.DocumentElement()
	if root == nil || root.TagName() != "html" || root.Parent() != nil {
		t.Fatalf("DocumentElement = %v", root)
	}

	var tags []string
	dom.Walk(root, func(el dom.Element) { tags = append(tags, el.TagName()) })
	want := []string{"html", "body", "x-card", "button", "img", "div"}
	if len(tags) != len(want) {
		t.Fatalf("walk = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("walk = %v, want %v", tags, want)
		}
	}

	card := root.Children()[0].Children()[0]
	sr := card.ShadowRoot()
	if sr == nil || len(sr.Children()) != 1 {
		t.Fatalf("shadow root = %v", sr)
	}
	if card.ShadowRoot() != sr {
		t.Error("shadow root is not stable")
	}
	button := sr.Children()[0]
	if button.Parent() != card {
		t.Error("shadow child should report its host as parent")
	}
	if !dom.Contains(root, button) {
		t.Error("button should be inside the document element")
	}
	if root.Children()[0].ShadowRoot() != nil {
		t.Error("body has no shadow root")
	}
}

func TestFrameElementSnapshotValues(t *testing.T) {
	d := loadedDocument(t, sampleSnapshot)
	button := d.elements[3]

	if v, ok := button.Attribute("TYPE"); !ok || v != "button" {
		t.Errorf("Attribute(type) = %q, %v", v, ok)
	}
	if _, ok := button.Attribute("href"); ok {
		t.Error("unexpected href")
	}
	st := button.Style()
	if st.Cursor != "pointer" || st.BorderRight != 2 || st.BorderLeft != 4 || st.PaddingBottom != "3px" {
		t.Errorf("Style = %+v", st)
	}
	rects := button.ClientRects()
	if len(rects) != 1 {
		t.Fatalf("ClientRects = %v", rects)
	}
	if r := rects[0]; r.X != 10 || r.Width != 60 || r.Type != geom.ElementBorder || r.Origin != geom.LayoutViewport {
		t.Errorf("client rect = %+v", r)
	}
	if s := button.Scroll(); s.ClientWidth != 58 || s.ScrollHeight != 20 {
		t.Errorf("Scroll = %+v", s)
	}
	if !button.IsFocused() || button.IsContentEditable() {
		t.Error("focus or editable flags wrong")
	}

	div := d.elements[5]
	if !div.Style().Hidden() || !div.IsContentEditable() || len(div.ClientRects()) != 0 {
		t.Error("hidden editable div decoded wrong")
	}
	if button.ContentDocument() != nil {
		t.Error("non-frame element has no content document")
	}
}

func TestFrameDocumentImagesForMap(t *testing.T) {
	d := loadedDocument(t, sampleSnapshot)
	imgs := d.ImagesForMap("nav")
	if len(imgs) != 1 || imgs[0].TagName() != "img" {
		t.Errorf("ImagesForMap(nav) = %v", imgs)
	}
	if got := d.ImagesForMap("other"); len(got) != 0 {
		t.Errorf("ImagesForMap(other) = %v", got)
	}
}

func TestEmptySnapshot(t *testing.T) {
	d := loadedDocument(t, `{"url": "about:blank", "nodes": []}`)
	if d.DocumentElement() != nil {
		t.Error("empty frame should have no document element")
	}
}

func TestBadges(t *testing.T) {
	targets := []hint.Target{
		{Hint: "A", State: hint.Hit, Rects: []geom.Rect{
			geom.NewRect(40, 30, 10, 10, geom.ElementBorder, geom.RootViewport),
			geom.NewRect(20, 50, 10, 10, geom.ElementBorder, geom.RootViewport),
		}},
		{Hint: "S", State: hint.Disabled},
	}
	got := badges(targets, &action.Descriptions{Short: "click"})
	if len(got) != 2 {
		t.Fatalf("badges = %v", got)
	}
	if got[0].X == nil || *got[0].X != 20 || *got[0].Y != 30 {
		t.Errorf("badge A position = %v,%v", got[0].X, got[0].Y)
	}
	if got[0].Title != "click" || got[0].State != "hit" {
		t.Errorf("badge A = %+v", got[0])
	}
	if got[1].X != nil || got[1].Title != "" || got[1].State != "disabled" {
		t.Errorf("badge S = %+v", got[1])
	}
}

func TestBadgesCarryHintTextVerbatim(t *testing.T) {
	hints := []string{`"]`, `\`, `A'B`}
	var targets []hint.Target
	for _, h := range hints {
		targets = append(targets, hint.Target{Hint: h})
	}
	raw, err := json.Marshal(badges(targets, nil))
	if err != nil {
		t.Fatal(err)
	}
	var back []badge
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	for i, h := range hints {
		if back[i].Hint != h {
			t.Errorf("badge %d hint = %q, want %q", i, back[i].Hint, h)
		}
	}
	// Badges are found by hint text through a map, never through a selector built
	// from it.
	if strings.Contains(renderJS, "querySelector") || !strings.Contains(renderJS, "byHint.get(b.hint)") {
		t.Error("renderJS looks badges up by selector")
	}
}

func TestMouseEventArg(t *testing.T) {
	arg := mouseEventArg(dom.MouseEvent{Type: "click", ClientX: 3, ClientY: 4, CtrlKey: true})
	if arg["type"] != "click" || arg["clientX"] != 3.0 || arg["ctrlKey"] != true || arg["shiftKey"] != false {
		t.Errorf("mouseEventArg = %v", arg)
	}
}
