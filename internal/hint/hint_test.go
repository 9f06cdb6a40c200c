package hint

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/agent"
	"hintnav-mcp-server/internal/aggregate"
	"hintnav-mcp-server/internal/collector"
	"hintnav-mcp-server/internal/dom/domtest"
	"hintnav-mcp-server/internal/messaging"
)

type recordingRenderer struct {
	mu       sync.Mutex
	rendered []Target
	hits     [][]Target
	descs    []*action.Descriptions
	removed  int
}

func (r *recordingRenderer) Render(_ context.Context, targets []Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, targets...)
	return nil
}

func (r *recordingRenderer) Hit(_ context.Context, changed []Target, desc *action.Descriptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, changed)
	r.descs = append(r.descs, desc)
	return nil
}

func (r *recordingRenderer) Remove(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed++
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) Attached(uint64)   { o.add("attached") }
func (o *recordingObserver) Assigned([]Target) { o.add("assigned") }
func (o *recordingObserver) Changed([]Target)  { o.add("changed") }
func (o *recordingObserver) Removed(*Target, *action.Descriptions, error) {
	o.add("removed")
}

type noFrames struct{}

func (noFrames) Request(context.Context, int, messaging.Message) (any, error) {
	return nil, messaging.ErrUnknownFrame
}

// sessionWith returns a manager hinting over fixed labels, without a round.
func sessionWith(labels ...string) *Manager {
	logger, _ := logtest.NewNullLogger()
	m := NewManager("ASDF", nil, noFrames{}, Options{Logger: logger})
	s := &session{settled: make(chan struct{})}
	for i, l := range labels {
		s.targets = append(s.targets, &Target{ID: aggregate.ElementID{Index: i}, Hint: l})
	}
	m.phase = Hinting
	m.cur = s
	return m
}

func states(ts []Target) map[string]State {
	out := make(map[string]State)
	for _, t := range ts {
		out[t.Hint] = t.State
	}
	return out
}

func TestHitTransitions(t *testing.T) {
	m := sessionWith("A", "AS", "SD")

	changed, err := m.Hit(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]State{"A": Hit, "AS": Candidate, "SD": Disabled}
	if got := states(changed); !reflect.DeepEqual(got, want) {
		t.Errorf("after A: %v, want %v", got, want)
	}

	changed, err = m.Hit(context.Background(), "S")
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]State{"A": Disabled, "AS": Hit}
	if got := states(changed); !reflect.DeepEqual(got, want) {
		t.Errorf("after AS: %v, want only the changed targets %v", got, want)
	}
	if hit, ok := m.HitTarget(); !ok || hit.Hint != "AS" {
		t.Errorf("hit target = %+v", hit)
	}
	if m.Input() != "AS" {
		t.Errorf("input = %q", m.Input())
	}
}

func TestHitIgnoresKeysOutsideTheAlphabet(t *testing.T) {
	m := sessionWith("A", "S")
	changed, err := m.Hit(context.Background(), "x")
	if err != nil || changed != nil {
		t.Errorf("got %v, %v", changed, err)
	}
	if m.Input() != "" {
		t.Errorf("input = %q", m.Input())
	}
	if changed, _ := m.Hit(context.Background(), "s"); len(changed) != 2 {
		t.Errorf("lower-case key should match, changed = %v", changed)
	}
}

func TestMisuseIsIllegal(t *testing.T) {
	m := NewManager("ASDF", nil, nil, Options{})
	if _, err := m.Hit(context.Background(), "A"); !errors.Is(err, messaging.ErrIllegalState) {
		t.Errorf("hit while idle: %v", err)
	}
	if _, err := m.Remove(context.Background(), action.Options{}); !errors.Is(err, messaging.ErrIllegalState) {
		t.Errorf("remove while idle: %v", err)
	}
	empty := NewManager("", nil, nil, Options{})
	if err := empty.Attach(context.Background()); !errors.Is(err, messaging.ErrIllegalState) {
		t.Errorf("attach without alphabet: %v", err)
	}
	if empty.Phase() != Idle {
		t.Errorf("phase = %s", empty.Phase())
	}
}

const fiveButtons = `<html><body>
	<button id="b0" data-rect="0 0 40 20">0</button>
	<button id="b1" data-rect="0 30 40 20">1</button>
	<button id="b2" data-rect="0 60 40 20">2</button>
	<button id="b3" data-rect="0 90 40 20">3</button>
	<button id="b4" data-rect="0 120 40 20">4</button>
</body></html>`

type harness struct {
	doc      *domtest.Document
	tree     *collector.Tree
	manager  *Manager
	renderer *recordingRenderer
	observer *recordingObserver
}

func newHarness(t *testing.T, background *messaging.Router, timeout time.Duration) *harness {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	doc := domtest.Parse("https://example.com/page", fiveButtons)
	tree, err := collector.NewTree(doc, background, agent.Options{Logger: logger},
		collector.Options{Timeout: timeout, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tree.Close)
	h := &harness{doc: doc, tree: tree, renderer: &recordingRenderer{}, observer: &recordingObserver{}}
	h.manager = NewManager("asdf", tree.Collector, tree.Bus, Options{
		Renderer:  h.renderer,
		Observers: []Observer{h.observer},
		URL:       doc.URL,
		Logger:    logger,
	})
	return h
}

func (h *harness) attachAndSettle(t *testing.T) {
	t.Helper()
	if err := h.manager.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.manager.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("hint session never settled")
	}
}

func TestAttachHitRemove(t *testing.T) {
	h := newHarness(t, nil, 100*time.Millisecond)
	h.attachAndSettle(t)

	if h.manager.Phase() != Hinting {
		t.Errorf("phase = %s, want hinting", h.manager.Phase())
	}
	targets := h.manager.Targets()
	var hints []string
	for i, tg := range targets {
		hints = append(hints, tg.Hint)
		if tg.ID.Index != i || tg.State != Init {
			t.Errorf("target %d = %+v", i, tg)
		}
	}
	if want := []string{"A", "S", "D", "F", "AA"}; !reflect.DeepEqual(hints, want) {
		t.Errorf("hints = %v, want %v", hints, want)
	}
	if err := h.manager.Attach(context.Background()); !errors.Is(err, messaging.ErrIllegalState) {
		t.Errorf("second attach: %v", err)
	}

	changed, err := h.manager.Hit(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 5 {
		t.Errorf("changed = %v", changed)
	}
	h.renderer.mu.Lock()
	desc := h.renderer.descs[0]
	h.renderer.mu.Unlock()
	if desc == nil || desc.Short != "click" {
		t.Errorf("hit descriptions = %+v", desc)
	}

	hit, err := h.manager.Remove(context.Background(), action.Options{CtrlKey: true})
	if err != nil {
		t.Fatal(err)
	}
	if hit == nil || hit.Hint != "A" {
		t.Fatalf("hit = %+v", hit)
	}
	if got := h.doc.EventTypes("b0"); !reflect.DeepEqual(got, action.ClickSequence) {
		t.Errorf("b0 events = %v", got)
	}
	if h.manager.Phase() != Idle || h.manager.Targets() != nil {
		t.Error("session not torn down")
	}
	if h.renderer.removed != 1 {
		t.Errorf("renderer removed %d times", h.renderer.removed)
	}

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	want := []string{"attached", "assigned", "changed", "removed"}
	if !reflect.DeepEqual(h.observer.events, want) {
		t.Errorf("observer saw %v, want %v", h.observer.events, want)
	}
}

func TestRemoveWithoutHitTarget(t *testing.T) {
	h := newHarness(t, nil, 100*time.Millisecond)
	h.attachAndSettle(t)

	hit, err := h.manager.Remove(context.Background(), action.Options{})
	if err != nil || hit != nil {
		t.Errorf("got %+v, %v", hit, err)
	}
	if len(h.doc.Events) != 0 {
		t.Errorf("no action should run, got %v", h.doc.Events)
	}
	if h.manager.Phase() != Idle {
		t.Errorf("phase = %s", h.manager.Phase())
	}
	if err := h.manager.Attach(context.Background()); err != nil {
		t.Errorf("re-attach after remove: %v", err)
	}
}

func TestRemoveWhileAttaching(t *testing.T) {
	h := newHarness(t, nil, time.Minute)
	if err := h.manager.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	settled := h.manager.Settled()
	if _, err := h.manager.Remove(context.Background(), action.Options{}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-settled:
	case <-time.After(time.Second):
		t.Fatal("round kept running after remove")
	}
	if h.manager.Phase() != Idle {
		t.Errorf("phase = %s", h.manager.Phase())
	}
}

func TestAttachRefusesBlacklistedPage(t *testing.T) {
	bg := messaging.NewRouter()
	_ = bg.Handle(messaging.MatchBlacklist, func(_ context.Context, msg messaging.Message) (any, error) {
		return []string{"https://example.com/*"}, nil
	})
	h := newHarness(t, bg, time.Minute)
	if err := h.manager.Attach(context.Background()); !errors.Is(err, ErrBlacklisted) {
		t.Errorf("err = %v, want ErrBlacklisted", err)
	}
	if h.manager.Phase() != Idle {
		t.Errorf("phase = %s", h.manager.Phase())
	}
}

// gatedRenderer blocks Render until released and records every call in order.
type gatedRenderer struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func (r *gatedRenderer) record(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *gatedRenderer) Render(context.Context, []Target) error {
	r.entered <- struct{}{}
	<-r.release
	r.record("render")
	return nil
}

func (r *gatedRenderer) Hit(context.Context, []Target, *action.Descriptions) error {
	r.record("hit")
	return nil
}

func (r *gatedRenderer) Remove(context.Context) error {
	r.record("remove")
	return nil
}

func TestRemoveWaitsForPendingRender(t *testing.T) {
	h := newHarness(t, nil, time.Minute)
	logger, _ := logtest.NewNullLogger()
	r := &gatedRenderer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	obs := &recordingObserver{}
	m := NewManager("asdf", h.tree.Collector, h.tree.Bus, Options{
		Renderer:  r,
		Observers: []Observer{obs},
		Logger:    logger,
	})
	if err := m.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first batch never rendered")
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Remove(context.Background(), action.Options{})
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("remove returned while a batch was rendering: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remove never returned")
	}

	r.mu.Lock()
	calls := append([]string(nil), r.calls...)
	r.mu.Unlock()
	if want := []string{"render", "remove"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("renderer calls = %v, want %v", calls, want)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if want := []string{"attached", "assigned", "removed"}; !reflect.DeepEqual(obs.events, want) {
		t.Errorf("observer saw %v, want %v", obs.events, want)
	}
	if m.Phase() != Idle {
		t.Errorf("phase = %s", m.Phase())
	}
}

func TestCancelRunsNoAction(t *testing.T) {
	h := newHarness(t, nil, 100*time.Millisecond)
	h.attachAndSettle(t)
	if _, err := h.manager.Hit(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	if err := h.manager.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.doc.Events) != 0 {
		t.Errorf("cancel ran an action: %v", h.doc.Events)
	}
	if h.manager.Phase() != Idle || h.renderer.removed != 1 {
		t.Errorf("phase = %s, renderer removed %d times", h.manager.Phase(), h.renderer.removed)
	}
	if err := h.manager.Cancel(context.Background()); !errors.Is(err, messaging.ErrIllegalState) {
		t.Errorf("second cancel: %v", err)
	}
}
