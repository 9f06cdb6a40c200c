package action

import (
	"context"

	"hintnav-mcp-server/internal/dom"
)

// ClickSequence is the order of a synthetic click. "focus" is a focus call, the rest
// are dispatched mouse events.
var ClickSequence = []string{"mouseover", "mousedown", "focus", "mouseup", "click"}

// click replays ClickSequence on el at the centre of its bounding box, yielding one
// rendering frame between steps. A cancelled event stops the sequence without error.
func click(ctx context.Context, doc dom.Document, el dom.Element, opts Options) error {
	cx, cy := el.BoundingClientRect().Center()
	for i, step := range ClickSequence {
		if i > 0 {
			if err := doc.NextFrame(ctx); err != nil {
				return err
			}
		}
		if step == "focus" {
			if err := el.Focus(ctx); err != nil {
				return err
			}
			continue
		}
		ok, err := el.DispatchMouseEvent(ctx, dom.MouseEvent{
			Type:     step,
			ClientX:  cx,
			ClientY:  cy,
			ShiftKey: opts.ShiftKey,
			AltKey:   opts.AltKey,
			CtrlKey:  opts.CtrlKey,
			MetaKey:  opts.MetaKey,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}
