package browser

import (
	"context"
	"encoding/json"
	"math"

	"github.com/go-rod/rod"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/geom"
	"hintnav-mcp-server/internal/hint"
)

const overlayID = "__hintnav_overlay"

const renderJS = `(id, raw) => {
	let root = document.getElementById(id);
	if (!root) {
		root = document.createElement("div");
		root.id = id;
		root.style.cssText = "position:fixed;left:0;top:0;width:0;height:0;z-index:2147483647;pointer-events:none;";
		(document.body || document.documentElement).appendChild(root);
	}
	const colors = { init: "#ffd76e", candidate: "#ffd76e", hit: "#7ee07e", disabled: "#c8c8c8" };
	const byHint = root.__hintnavBadges || (root.__hintnavBadges = new Map());
	for (const b of JSON.parse(raw)) {
		let el = byHint.get(b.hint);
		if (!el) {
			el = document.createElement("span");
			el.dataset.hint = b.hint;
			el.textContent = b.hint;
			el.style.cssText = "position:fixed;padding:0 2px;font:bold 11px monospace;color:#302505;border:1px solid #c38a22;border-radius:3px;";
			root.appendChild(el);
			byHint.set(b.hint, el);
		}
		if (b.x !== undefined) {
			el.style.left = b.x + "px";
			el.style.top = b.y + "px";
		}
		el.dataset.state = b.state;
		el.style.background = colors[b.state] || colors.init;
		el.style.opacity = b.state === "disabled" ? "0.4" : "1";
		if (b.title) el.title = b.title;
	}
	return true;
}`

const removeJS = `(id) => { const root = document.getElementById(id); if (root) root.remove(); return true; }`

// badge is the drawing instruction for one hint.
type badge struct {
	Hint  string   `json:"hint"`
	State string   `json:"state"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Title string   `json:"title,omitempty"`
}

// badges places each hint at the top-left corner of its rects. Targets without
// rects only update their state.
func badges(targets []hint.Target, desc *action.Descriptions) []badge {
	out := make([]badge, 0, len(targets))
	for _, t := range targets {
		b := badge{Hint: t.Hint, State: t.State.String()}
		if len(t.Rects) > 0 {
			x, y := topLeft(t.Rects)
			b.X, b.Y = &x, &y
		}
		if desc != nil && t.State == hint.Hit {
			b.Title = desc.Short
		}
		out = append(out, b)
	}
	return out
}

func topLeft(rs []geom.Rect) (float64, float64) {
	x, y := rs[0].Left(), rs[0].Top()
	for _, r := range rs[1:] {
		x = math.Min(x, r.Left())
		y = math.Min(y, r.Top())
	}
	return x, y
}

// Overlay draws hint badges into the top document of a page.
type Overlay struct {
	page *rod.Page
}

var _ hint.Renderer = (*Overlay)(nil)

// NewOverlay draws on page.
func NewOverlay(page *rod.Page) *Overlay {
	return &Overlay{page: page}
}

func (o *Overlay) draw(ctx context.Context, bs []badge) error {
	if len(bs) == 0 {
		return nil
	}
	raw, err := json.Marshal(bs)
	if err != nil {
		return err
	}
	return o.eval(ctx, renderJS, overlayID, string(raw))
}

func (o *Overlay) eval(ctx context.Context, js string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	_, err := o.page.Context(ctx).Evaluate(&rod.EvalOptions{JS: js, JSArgs: args, ByValue: true})
	return err
}

func (o *Overlay) Render(ctx context.Context, targets []hint.Target) error {
	return o.draw(ctx, badges(targets, nil))
}

func (o *Overlay) Hit(ctx context.Context, changed []hint.Target, desc *action.Descriptions) error {
	return o.draw(ctx, badges(changed, desc))
}

func (o *Overlay) Remove(ctx context.Context) error {
	return o.eval(ctx, removeJS, overlayID)
}
