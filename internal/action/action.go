// Package action maps a DOM element to the way it should be activated.
//
// A Finder holds an ordered rule list; the first rule that supports an element wins.
// Rules may redirect activation to an ancestor (the actual target), which lets a hint
// on a nested icon activate its enclosing link.
package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/dom"
)

// Options is the modifier state replayed into synthetic events.
type Options struct {
	ShiftKey bool `json:"shiftKey"`
	AltKey   bool `json:"altKey"`
	CtrlKey  bool `json:"ctrlKey"`
	MetaKey  bool `json:"metaKey"`
}

// Descriptions is the human readable summary of an action.
type Descriptions struct {
	Short string `json:"short"`
	Long  string `json:"long,omitempty"`
}

// Match is the answer of Rule.Supports. Target is the element the action runs on.
type Match struct {
	OK     bool
	Target dom.Element
}

func supported(target dom.Element) Match { return Match{OK: true, Target: target} }

// Rule is one entry of the finder's ordered rule list.
type Rule interface {
	Name() string
	Supports(el dom.Element) Match
	Describe(target dom.Element) Descriptions
	Handle(ctx context.Context, doc dom.Document, target dom.Element, opts Options) error
}

// Action is a resolved rule bound to an element.
type Action struct {
	Rule    Rule
	Element dom.Element
	Target  dom.Element
	doc     dom.Document
}

// Descriptions describes the action on its actual target.
func (a Action) Descriptions() Descriptions { return a.Rule.Describe(a.Target) }

// Handle performs the action on its actual target.
func (a Action) Handle(ctx context.Context, opts Options) error {
	if err := a.Rule.Handle(ctx, a.doc, a.Target, opts); err != nil {
		return fmt.Errorf("%s on <%s>: %w", a.Rule.Name(), a.Target.TagName(), err)
	}
	return nil
}

// FinderOptions configures a Finder.
type FinderOptions struct {
	// CustomSelector, when set, is tried before every built-in rule.
	CustomSelector string
	// AdditionalSelectors extend the clickable allowlist, typically per-URL selectors
	// from the settings store.
	AdditionalSelectors []string
	Logger              logrus.FieldLogger
}

// Finder resolves elements of one document to actions.
type Finder struct {
	doc   dom.Document
	rules []Rule
	log   logrus.FieldLogger
}

// NewFinder builds the rule list for doc.
func NewFinder(doc dom.Document, opts FinderOptions) *Finder {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	var rules []Rule
	if sel := strings.TrimSpace(opts.CustomSelector); sel != "" {
		rules = append(rules, &fnRule{
			name:     "custom",
			supports: func(el dom.Element) Match { return matchSelf(el, el.Matches(sel)) },
			describe: describeAs("click"),
			handle:   click,
		})
	}
	rules = append(rules, builtinRules(opts.AdditionalSelectors, log)...)
	return &Finder{doc: doc, rules: rules, log: log}
}

// Rules returns the ordered rule list.
func (f *Finder) Rules() []Rule { return f.rules }

// Find returns the action for el from the first supporting rule.
func (f *Finder) Find(el dom.Element) (Action, bool) {
	for _, r := range f.rules {
		m := r.Supports(el)
		if !m.OK {
			continue
		}
		target := m.Target
		if target == nil {
			target = el
		}
		return Action{Rule: r, Element: el, Target: target, doc: f.doc}, true
	}
	return Action{}, false
}

type fnRule struct {
	name     string
	supports func(dom.Element) Match
	describe func(dom.Element) Descriptions
	handle   func(context.Context, dom.Document, dom.Element, Options) error
}

func (r *fnRule) Name() string                         { return r.name }
func (r *fnRule) Supports(el dom.Element) Match        { return r.supports(el) }
func (r *fnRule) Describe(el dom.Element) Descriptions { return r.describe(el) }
func (r *fnRule) Handle(ctx context.Context, doc dom.Document, el dom.Element, opts Options) error {
	return r.handle(ctx, doc, el, opts)
}

func matchSelf(el dom.Element, ok bool) Match {
	if !ok {
		return Match{}
	}
	return supported(el)
}

func describeAs(short string) func(dom.Element) Descriptions {
	return func(el dom.Element) Descriptions {
		return Descriptions{Short: short, Long: longDescription(el)}
	}
}

// longDescription names the element the way a user would recognise it.
func longDescription(el dom.Element) string {
	for _, name := range []string{"aria-label", "title", "alt", "placeholder", "href", "name"} {
		if v, ok := el.Attribute(name); ok && strings.TrimSpace(v) != "" {
			return fmt.Sprintf("<%s %s=%q>", el.TagName(), name, strings.TrimSpace(v))
		}
	}
	if id, ok := el.Attribute("id"); ok && id != "" {
		return fmt.Sprintf("<%s#%s>", el.TagName(), id)
	}
	return "<" + el.TagName() + ">"
}
