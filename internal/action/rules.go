package action

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/dom"
)

// ClickableSelectors is the built-in allowlist of elements that activate on click.
var ClickableSelectors = []string{
	"a[href]",
	"area[href]",
	"button",
	"label",
	"[onclick]",
	"[role=button]",
	"[role=link]",
	"[role=checkbox]",
	"[role=radio]",
	"[role=tab]",
	"[role=menuitem]",
	"[role=option]",
	"[role=switch]",
}

// ClickableInputTypes are the <input> types activated by a click rather than focus.
var ClickableInputTypes = map[string]bool{
	"button":   true,
	"checkbox": true,
	"file":     true,
	"image":    true,
	"radio":    true,
	"reset":    true,
	"submit":   true,
}

func builtinRules(additional []string, log logrus.FieldLogger) []Rule {
	// Selectors are matched one at a time so a malformed additional selector only
	// disables itself.
	selectors := append([]string(nil), ClickableSelectors...)
	for _, sel := range additional {
		if sel = strings.TrimSpace(sel); sel != "" {
			selectors = append(selectors, sel)
		}
	}

	return []Rule{
		&fnRule{
			name:     "focused",
			supports: func(el dom.Element) Match { return matchSelf(el, el.IsFocused()) },
			describe: describeAs("blur"),
			handle: func(ctx context.Context, _ dom.Document, el dom.Element, _ Options) error {
				return el.Blur(ctx)
			},
		},
		&fnRule{
			name: "frame",
			supports: func(el dom.Element) Match {
				tag := el.TagName()
				return matchSelf(el, tag == "iframe" || tag == "frame")
			},
			describe: describeAs("focus frame"),
			handle:   focus,
		},
		&fnRule{
			name: "clickable input",
			supports: func(el dom.Element) Match {
				return matchSelf(el, el.TagName() == "input" && ClickableInputTypes[inputType(el)])
			},
			describe: describeAs("click"),
			handle:   click,
		},
		&fnRule{
			name:     "input",
			supports: func(el dom.Element) Match { return matchSelf(el, el.TagName() == "input") },
			describe: describeAs("focus"),
			handle:   focusAndPick(log),
		},
		&fnRule{
			name: "details",
			supports: func(el dom.Element) Match {
				switch el.TagName() {
				case "details":
					return supported(el)
				case "summary":
					if p := el.Parent(); p != nil && p.TagName() == "details" {
						return supported(p)
					}
				}
				return Match{}
			},
			describe: func(el dom.Element) Descriptions {
				short := "open"
				if _, open := el.Attribute("open"); open {
					short = "close"
				}
				return Descriptions{Short: short, Long: longDescription(el)}
			},
			handle: toggleOpen,
		},
		&fnRule{
			name:     "select",
			supports: func(el dom.Element) Match { return matchSelf(el, el.TagName() == "select") },
			describe: describeAs("select"),
			handle:   focusAndPick(log),
		},
		&fnRule{
			name: "clickable selector",
			supports: func(el dom.Element) Match {
				for cur := el; cur != nil && !dom.IsDocumentBoundary(cur); cur = cur.Parent() {
					for _, sel := range selectors {
						if cur.Matches(sel) {
							return supported(cur)
						}
					}
				}
				return Match{}
			},
			describe: describeAs("click"),
			handle:   click,
		},
		&fnRule{
			name: "pointer cursor",
			supports: func(el dom.Element) Match {
				if el.Style().Cursor != "pointer" {
					return Match{}
				}
				target := el
				for p := el.Parent(); p != nil && !dom.IsDocumentBoundary(p) && p.Style().Cursor == "pointer"; p = p.Parent() {
					target = p
				}
				return supported(target)
			},
			describe: describeAs("click"),
			handle:   click,
		},
		&fnRule{
			name:     "editable",
			supports: func(el dom.Element) Match { return matchSelf(el, el.IsContentEditable()) },
			describe: describeAs("focus"),
			handle:   focus,
		},
		&fnRule{
			name: "tabindex",
			supports: func(el dom.Element) Match {
				_, ok := el.Attribute("tabindex")
				return matchSelf(el, ok)
			},
			describe: describeAs("focus"),
			handle:   focus,
		},
		&fnRule{
			name:     "scrollable",
			supports: func(el dom.Element) Match { return matchSelf(el, scrollable(el)) },
			describe: describeAs("focus scroll container"),
			handle:   focusScrollable,
		},
	}
}

func inputType(el dom.Element) string {
	t, _ := el.Attribute("type")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "text"
	}
	return t
}

func scrollable(el dom.Element) bool {
	st, sc := el.Style(), el.Scroll()
	scrolls := func(overflow string) bool { return overflow == "auto" || overflow == "scroll" }
	return (scrolls(st.OverflowX) && sc.ScrollWidth > sc.ClientWidth) ||
		(scrolls(st.OverflowY) && sc.ScrollHeight > sc.ClientHeight)
}

func focus(ctx context.Context, _ dom.Document, el dom.Element, _ Options) error {
	return el.Focus(ctx)
}

// focusAndPick focuses el and opens its picker where the browser offers one. Not every
// control has a picker, so a picker failure is only logged.
func focusAndPick(log logrus.FieldLogger) func(context.Context, dom.Document, dom.Element, Options) error {
	return func(ctx context.Context, _ dom.Document, el dom.Element, _ Options) error {
		if err := el.Focus(ctx); err != nil {
			return err
		}
		if err := el.ShowPicker(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).WithField("tag", el.TagName()).Debug("showPicker unavailable")
		}
		return nil
	}
}

func toggleOpen(ctx context.Context, _ dom.Document, el dom.Element, _ Options) error {
	if _, open := el.Attribute("open"); open {
		return el.RemoveAttribute(ctx, "open")
	}
	return el.SetAttribute(ctx, "open", "")
}

// focusScrollable makes el focusable for the duration of the focus call so keyboard
// scrolling applies to it afterwards.
func focusScrollable(ctx context.Context, _ dom.Document, el dom.Element, _ Options) error {
	if err := el.SetAttribute(ctx, "tabindex", "-1"); err != nil {
		return err
	}
	focusErr := el.Focus(ctx)
	if err := el.RemoveAttribute(ctx, "tabindex"); err != nil && focusErr == nil {
		return err
	}
	return focusErr
}
