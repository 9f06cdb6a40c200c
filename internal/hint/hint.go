// Package hint is the hint selection state machine.
//
// A Manager moves Idle -> Attaching -> Hinting -> Idle. Attach starts an aggregation
// round and labels targets batch by batch as they arrive; Hit narrows the targets by
// typed letters; Remove runs the hit target's action in its frame and tears the
// session down.
package hint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/aggregate"
	"hintnav-mcp-server/internal/collector"
	"hintnav-mcp-server/internal/geom"
	"hintnav-mcp-server/internal/messaging"
)

// ErrBlacklisted is returned by Attach on a page the blacklist covers.
var ErrBlacklisted = errors.New("page is blacklisted")

// State is a target's match against the typed input.
type State int

const (
	Init State = iota
	Candidate
	Hit
	Disabled
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Candidate:
		return "candidate"
	case Hit:
		return "hit"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Phase is the lifecycle stage of a Manager.
type Phase int

const (
	Idle Phase = iota
	Attaching
	Hinting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Attaching:
		return "attaching"
	case Hinting:
		return "hinting"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Target is one labelled element.
type Target struct {
	ID    aggregate.ElementID `json:"id"`
	Hint  string              `json:"hint"`
	Rects []geom.Rect         `json:"rects"`
	State State               `json:"state"`
}

// Renderer draws hints.
type Renderer interface {
	Render(ctx context.Context, targets []Target) error
	Hit(ctx context.Context, changed []Target, desc *action.Descriptions) error
	Remove(ctx context.Context) error
}

// Observer is told about every transition. Calls happen outside the manager's lock.
type Observer interface {
	Attached(requestID uint64)
	Assigned(targets []Target)
	Changed(changed []Target)
	// Removed reports the hit target, the descriptions of the action it ran and the
	// action's error.
	Removed(hit *Target, desc *action.Descriptions, err error)
}

// Collector starts aggregation rounds.
type Collector interface {
	Start(ctx context.Context) (*collector.Round, error)
}

// Requester reaches frames and the broker.
type Requester interface {
	Request(ctx context.Context, to int, msg messaging.Message) (any, error)
}

// Options configures a Manager.
type Options struct {
	Renderer  Renderer
	Observers []Observer
	// URL returns the page address checked against the blacklist on Attach.
	URL    func() string
	Logger logrus.FieldLogger
}

// session is the live hint context.
type session struct {
	round   *collector.Round
	cancel  context.CancelFunc
	labels  *LabelSequence
	targets []*Target
	input   []string
	hit     *Target
	settled chan struct{}
}

// Manager owns at most one hint session.
type Manager struct {
	letters   []string
	compare   Comparator
	collector Collector
	requester Requester
	opts      Options
	log       logrus.FieldLogger

	mu    sync.Mutex
	phase Phase
	cur   *session
}

// NewManager returns an idle manager for alphabet.
func NewManager(alphabet string, col Collector, req Requester, opts Options) *Manager {
	if opts.Renderer == nil {
		opts.Renderer = NopRenderer{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		letters:   Letters(alphabet),
		compare:   NewComparator(alphabet),
		collector: col,
		requester: req,
		opts:      opts,
		log:       log,
	}
}

// Alphabet returns the configured letters, upper-cased.
func (m *Manager) Alphabet() string { return strings.Join(m.letters, "") }

// Phase reports the current lifecycle stage.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Attach starts a hint session. It fails while a session is live, when the alphabet
// is empty, or when the page is blacklisted.
func (m *Manager) Attach(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != Idle {
		m.mu.Unlock()
		return fmt.Errorf("%w: attach while %s", messaging.ErrIllegalState, m.phase)
	}
	if len(m.letters) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: no hint alphabet configured", messaging.ErrIllegalState)
	}
	// Claim the slot before releasing the lock so a concurrent Attach fails.
	m.phase = Attaching
	m.mu.Unlock()

	if err := m.checkBlacklist(ctx); err != nil {
		m.setIdle()
		return err
	}
	roundCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	round, err := m.collector.Start(roundCtx)
	if err != nil {
		cancel()
		m.setIdle()
		return fmt.Errorf("attach hints: %w", err)
	}
	s := &session{
		round:   round,
		cancel:  cancel,
		labels:  NewLabelSequence(m.Alphabet()),
		settled: make(chan struct{}),
	}
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()

	m.log.WithField("request_id", round.ID).Debug("hints attaching")
	for _, o := range m.opts.Observers {
		o.Attached(round.ID)
	}
	go m.consume(s)
	return nil
}

func (m *Manager) setIdle() {
	m.mu.Lock()
	m.phase = Idle
	m.mu.Unlock()
}

func (m *Manager) checkBlacklist(ctx context.Context) error {
	if m.opts.URL == nil {
		return nil
	}
	url := m.opts.URL()
	v, err := m.requester.Request(ctx, messaging.Background, messaging.Message{
		Kind:    messaging.MatchBlacklist,
		Payload: messaging.URLRequest{URL: url},
	})
	if err != nil {
		if errors.Is(err, messaging.ErrUnhandled) {
			return nil
		}
		return fmt.Errorf("match blacklist: %w", err)
	}
	if matched, _ := v.([]string); len(matched) > 0 {
		return fmt.Errorf("%w: %s matches %q", ErrBlacklisted, url, matched[0])
	}
	return nil
}

// consume labels each batch of the session's round and renders it.
func (m *Manager) consume(s *session) {
	defer close(s.settled)
	for batch := range s.round.Batches() {
		m.mu.Lock()
		if m.cur != s {
			m.mu.Unlock()
			return
		}
		labels := s.labels.Take(len(batch))
		m.compare.Sort(labels)
		joined := strings.Join(s.input, "")
		added := make([]Target, len(batch))
		for i, h := range batch {
			t := &Target{
				ID:    aggregate.ElementID{FrameID: h.FrameID, Index: h.Index},
				Hint:  labels[i],
				Rects: h.Rects,
			}
			if joined != "" {
				t.State = match(t.Hint, joined)
				if t.State == Hit && s.hit == nil {
					s.hit = t
				}
			}
			s.targets = append(s.targets, t)
			added[i] = *t
		}
		m.mu.Unlock()

		if err := m.opts.Renderer.Render(context.Background(), added); err != nil {
			m.log.WithError(err).Warn("render hints")
		}
		for _, o := range m.opts.Observers {
			o.Assigned(added)
		}
	}

	m.mu.Lock()
	if m.cur == s && m.phase == Attaching {
		m.phase = Hinting
	}
	m.mu.Unlock()
}

// Settled is closed once the current session has received every batch. It returns nil
// when no session is live.
func (m *Manager) Settled() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.settled
}

// Targets returns a snapshot of the current targets.
func (m *Manager) Targets() []Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	out := make([]Target, len(m.cur.targets))
	for i, t := range m.cur.targets {
		out[i] = *t
	}
	return out
}

// Input returns the letters typed so far.
func (m *Manager) Input() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ""
	}
	return strings.Join(m.cur.input, "")
}

func match(label, input string) State {
	switch {
	case label == input:
		return Hit
	case strings.HasPrefix(label, input):
		return Candidate
	default:
		return Disabled
	}
}

func (m *Manager) inAlphabet(key string) bool {
	for _, l := range m.letters {
		if l == key {
			return true
		}
	}
	return false
}

// Hit types key. Keys outside the alphabet are ignored. It returns the targets whose
// state changed.
func (m *Manager) Hit(ctx context.Context, key string) ([]Target, error) {
	key = strings.ToUpper(key)

	m.mu.Lock()
	s := m.cur
	if m.phase == Idle || s == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: hit without a hint session", messaging.ErrIllegalState)
	}
	if !m.inAlphabet(key) {
		m.mu.Unlock()
		return nil, nil
	}
	s.input = append(s.input, key)
	joined := strings.Join(s.input, "")
	var changed []Target
	s.hit = nil
	for _, t := range s.targets {
		next := match(t.Hint, joined)
		if next == Hit {
			s.hit = t
		}
		if next != t.State {
			t.State = next
			changed = append(changed, *t)
		}
	}
	var hit *Target
	if s.hit != nil {
		cp := *s.hit
		hit = &cp
	}
	m.mu.Unlock()

	if len(changed) == 0 {
		return nil, nil
	}
	var desc *action.Descriptions
	if hit != nil {
		desc = m.describe(ctx, hit.ID)
	}
	if err := m.opts.Renderer.Hit(ctx, changed, desc); err != nil {
		m.log.WithError(err).Warn("render hit")
	}
	for _, o := range m.opts.Observers {
		o.Changed(changed)
	}
	return changed, nil
}

func (m *Manager) describe(ctx context.Context, id aggregate.ElementID) *action.Descriptions {
	v, err := m.requester.Request(ctx, id.FrameID, messaging.Message{
		Kind:    messaging.GetDescriptions,
		Payload: messaging.ElementRequest{ID: id},
	})
	if err != nil {
		m.log.WithError(err).WithField("frame", id.FrameID).Warn("descriptions unavailable")
		return nil
	}
	d, ok := v.(action.Descriptions)
	if !ok {
		return nil
	}
	return &d
}

// HitTarget returns the currently hit target, if any.
func (m *Manager) HitTarget() (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.hit == nil {
		return Target{}, false
	}
	return *m.cur.hit, true
}

// Remove runs the hit target's action, if any, in its owning frame and then ends the
// session whatever the outcome. It returns the hit target.
func (m *Manager) Remove(ctx context.Context, opts action.Options) (*Target, error) {
	return m.remove(ctx, &opts)
}

// Cancel ends the session without running any action. Observers see no hit target.
func (m *Manager) Cancel(ctx context.Context) error {
	_, err := m.remove(ctx, nil)
	return err
}

func (m *Manager) remove(ctx context.Context, opts *action.Options) (*Target, error) {
	m.mu.Lock()
	s := m.cur
	if m.phase == Idle || s == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: remove without a hint session", messaging.ErrIllegalState)
	}
	var hit *Target
	if s.hit != nil && opts != nil {
		cp := *s.hit
		hit = &cp
	}
	// Detach the session now so Hit and a second Remove fail; the phase stays busy
	// until teardown finishes so Attach fails too.
	m.cur = nil
	m.mu.Unlock()

	var (
		actErr error
		desc   *action.Descriptions
	)
	if hit != nil {
		var v any
		v, actErr = m.requester.Request(ctx, hit.ID.FrameID, messaging.Message{
			Kind:    messaging.ExecuteAction,
			Payload: messaging.ActionRequest{ID: hit.ID, Options: *opts},
		})
		if actErr != nil {
			actErr = fmt.Errorf("execute action of %q: %w", hit.Hint, actErr)
		} else if d, ok := v.(action.Descriptions); ok {
			desc = &d
		}
	}

	s.round.Complete()
	s.cancel()
	// A batch may be mid-render; let consume finish so nothing is drawn after Remove.
	select {
	case <-s.settled:
	case <-ctx.Done():
		m.log.WithError(ctx.Err()).Warn("hint session did not settle before remove")
	}
	m.setIdle()

	if err := m.opts.Renderer.Remove(ctx); err != nil {
		m.log.WithError(err).Warn("remove hints")
	}
	for _, o := range m.opts.Observers {
		o.Removed(hit, desc, actErr)
	}
	return hit, actErr
}

// NopRenderer draws nothing.
type NopRenderer struct{}

func (NopRenderer) Render(context.Context, []Target) error                    { return nil }
func (NopRenderer) Hit(context.Context, []Target, *action.Descriptions) error { return nil }
func (NopRenderer) Remove(context.Context) error                              { return nil }
