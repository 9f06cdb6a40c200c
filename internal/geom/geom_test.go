package geom

import "testing"

func rect(x, y, w, h float64) Rect {
	return NewRect(x, y, w, h, ElementBorder, LayoutViewport)
}

func TestIntersection(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want Rect
		ok   bool
	}{
		{"overlap", rect(0, 0, 10, 10), rect(5, 5, 10, 10), rect(5, 5, 5, 5), true},
		{"contained", rect(0, 0, 100, 100), rect(10, 20, 5, 5), rect(10, 20, 5, 5), true},
		{"touching edge", rect(0, 0, 10, 10), rect(10, 0, 10, 10), Rect{}, false},
		{"touching corner", rect(0, 0, 10, 10), rect(10, 10, 5, 5), Rect{}, false},
		{"disjoint", rect(0, 0, 10, 10), rect(50, 50, 10, 10), Rect{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Intersection(tc.a, tc.b)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
			rev, revOK := Intersection(tc.b, tc.a)
			if revOK != ok || (ok && rev != got) {
				t.Errorf("intersection is not symmetric: %v/%v vs %v/%v", got, ok, rev, revOK)
			}
		})
	}
}

func TestIntersectionKeepsFirstType(t *testing.T) {
	vp := NewRect(0, 0, 50, 50, ActualViewport, LayoutViewport)
	got, ok := Intersection(rect(40, 40, 20, 20), vp)
	if !ok {
		t.Fatal("expected overlap")
	}
	if got.Type != ElementBorder || got.Origin != LayoutViewport {
		t.Errorf("unexpected tags %s/%s", got.Type, got.Origin)
	}
	if got.Width != 10 || got.Height != 10 {
		t.Errorf("unexpected size %v", got)
	}
}

func TestIntersectionPanicsOnOriginMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Intersection(rect(0, 0, 1, 1), NewRect(0, 0, 1, 1, ElementBorder, RootViewport))
}

func TestMoveRoundTrip(t *testing.T) {
	r := rect(3.5, -2, 10, 20)
	d := NewPoint(100, 250.25, LayoutViewport, RootViewport)
	moved := Move(r, d)
	if moved.Origin != RootViewport || moved.Type != ElementBorder {
		t.Fatalf("unexpected tags after move: %s", moved)
	}
	if moved.X != 103.5 || moved.Y != 248.25 {
		t.Errorf("unexpected position %v", moved)
	}
	back := Move(moved, d.Reverse())
	if back != r {
		t.Errorf("round trip gave %v, want %v", back, r)
	}
}

func TestOffsetsPanicsOnWrongOrigin(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Offsets(rect(0, 0, 1, 1), NewPoint(1, 1, RootViewport, InitialContainingBlock))
}

func TestPointAdd(t *testing.T) {
	childInParent := NewPoint(10, 20, LayoutViewport, LayoutViewport)
	childInParent.Origin = RootViewport
	grandchild := NewPoint(5, 5, ActualViewport, LayoutViewport)
	got := grandchild.Add(childInParent)
	if got.X != 15 || got.Y != 25 || got.Type != ActualViewport || got.Origin != RootViewport {
		t.Errorf("unexpected composition %+v", got)
	}
}

func TestBoundRects(t *testing.T) {
	got := BoundRects(rect(10, 10, 5, 5), rect(0, 20, 2, 2), rect(30, 0, 1, 1))
	want := FromEdges(0, 0, 31, 22, ElementBorder, LayoutViewport)
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	t.Run("empty input panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		BoundRects()
	})
}

func TestPadAndCrop(t *testing.T) {
	r := rect(10, 10, 100, 50)
	padded := Pad(r, 2)
	if padded != rect(8, 8, 104, 54) {
		t.Errorf("pad gave %v", padded)
	}
	content := CropByBorders(r, Sides{Top: 1, Right: 2, Bottom: 3, Left: 4}, ElementPadding)
	if content.X != 14 || content.Y != 11 || content.Width != 94 || content.Height != 46 {
		t.Errorf("crop gave %v", content)
	}
	if content.Type != ElementPadding {
		t.Errorf("crop did not retag: %s", content.Type)
	}
}

func TestBond(t *testing.T) {
	set := []Rect{rect(0, 0, 10, 10), rect(100, 100, 10, 10)}
	set = Bond(set, rect(5, 5, 10, 10))
	if len(set) != 2 {
		t.Fatalf("expected 2 rects, got %v", set)
	}
	if set[1] != rect(0, 0, 15, 15) {
		t.Errorf("expected merged box, got %v", set[1])
	}

	// A rect spanning both members collapses everything into one box.
	set = Bond(set, rect(10, 10, 95, 95))
	if len(set) != 1 || set[0] != rect(0, 0, 110, 110) {
		t.Errorf("expected single box, got %v", set)
	}

	set = Bond(set, rect(500, 500, 1, 1))
	if len(set) != 2 {
		t.Errorf("disjoint rect should be appended, got %v", set)
	}
}

func TestRound(t *testing.T) {
	got := rect(1.4, 1.6, 10.5, 2.49).Round()
	if got.X != 1 || got.Y != 2 || got.Width != 11 || got.Height != 2 {
		t.Errorf("round gave %v", got)
	}
}
