package browser

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/agent"
	"hintnav-mcp-server/internal/collector"
	"hintnav-mcp-server/internal/hint"
	"hintnav-mcp-server/internal/messaging"
)

// HintOptions configures the hint sessions started on tracked pages.
type HintOptions struct {
	// Alphabet is read on every attach so settings changes apply to the next session.
	Alphabet  func() string
	Agent     agent.Options
	Collector collector.Options
	// Background answers broker requests such as the blacklist lookup.
	Background *messaging.Router
	// Observers returns the observers for a browser session.
	Observers func(sessionID string) []hint.Observer
	// OnTimeout is told about rounds that hit their deadline.
	OnTimeout func(sessionID string, requestID uint64)
	Logger    logrus.FieldLogger
}

// HintSession is one attach-to-remove cycle on a page: a fresh frame snapshot, a
// frame tree with an agent per frame, and the selection state machine.
type HintSession struct {
	SessionID string
	Manager   *hint.Manager

	doc    *FrameDocument
	tree   *collector.Tree
	cancel context.CancelFunc
}

// Close stops the frame tree. It is safe to call more than once.
func (h *HintSession) Close() {
	h.tree.Close()
	h.cancel()
}

// SetHintOptions replaces the options used by later AttachHints calls.
func (m *SessionManager) SetHintOptions(opts HintOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hintOpts = opts
}

// HintOptions returns the options the next AttachHints uses.
func (m *SessionManager) HintOptions() HintOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hintOpts
}

// AttachHints starts a hint session on the page of sessionID. It fails while the
// previous session of that page is still live.
func (m *SessionManager) AttachHints(ctx context.Context, sessionID string) (*HintSession, error) {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	if rec.hints != nil && rec.hints.Manager.Phase() != hint.Idle {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: hints already attached to session %s", messaging.ErrIllegalState, sessionID)
	}
	if rec.hints != nil {
		rec.hints.Close()
		rec.hints = nil
	}
	opts := m.hintOpts
	page := rec.page
	m.mu.Unlock()

	alphabet := ""
	if opts.Alphabet != nil {
		alphabet = opts.Alphabet()
	}
	if len(hint.Letters(alphabet)) == 0 {
		return nil, fmt.Errorf("%w: no hint alphabet configured", messaging.ErrIllegalState)
	}

	log := opts.Logger
	if log == nil {
		log = m.log
	}
	log = log.WithField("session_id", sessionID)

	background := opts.Background
	if background == nil {
		background = messaging.NewRouter()
	}
	colOpts := opts.Collector
	colOpts.Logger = log
	if opts.OnTimeout != nil {
		colOpts.OnTimeout = func(requestID uint64) { opts.OnTimeout(sessionID, requestID) }
	}
	agentOpts := opts.Agent
	agentOpts.Logger = log

	docCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	doc := NewFrameDocument(docCtx, page, log)
	tree, err := collector.NewTree(doc, background, agentOpts, colOpts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("frame tree: %w", err)
	}

	var observers []hint.Observer
	if opts.Observers != nil {
		observers = opts.Observers(sessionID)
	}
	hs := &HintSession{
		SessionID: sessionID,
		doc:       doc,
		tree:      tree,
		cancel:    cancel,
		Manager: hint.NewManager(alphabet, tree.Collector, tree.Bus, hint.Options{
			Renderer:  NewOverlay(page),
			Observers: observers,
			URL:       doc.URL,
			Logger:    log,
		}),
	}

	m.mu.Lock()
	if cur := m.sessions[sessionID]; cur != rec || (rec.hints != nil && rec.hints.Manager.Phase() != hint.Idle) {
		m.mu.Unlock()
		hs.Close()
		return nil, fmt.Errorf("%w: session %s changed during attach", messaging.ErrIllegalState, sessionID)
	}
	rec.hints = hs
	m.mu.Unlock()

	if err := hs.Manager.Attach(ctx); err != nil {
		m.dropHints(sessionID, hs)
		return nil, err
	}
	return hs, nil
}

func (m *SessionManager) dropHints(sessionID string, hs *HintSession) {
	m.mu.Lock()
	if rec, ok := m.sessions[sessionID]; ok && rec.hints == hs {
		rec.hints = nil
	}
	m.mu.Unlock()
	hs.Close()
}

// Hints returns the latest hint session of sessionID, live or finished.
func (m *SessionManager) Hints(sessionID string) (*HintSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.hints == nil {
		return nil, false
	}
	return rec.hints, true
}

// RemoveHints runs the hit target's action and ends the hint session.
func (m *SessionManager) RemoveHints(ctx context.Context, sessionID string, opts action.Options) (*hint.Target, error) {
	hs, ok := m.Hints(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: no hint session on %s", messaging.ErrIllegalState, sessionID)
	}
	hit, err := hs.Manager.Remove(ctx, opts)
	hs.Close()
	m.touch(sessionID)
	return hit, err
}

// CancelHints ends every live hint session without running an action, removing the
// overlays while the pages are still open. It returns how many sessions it ended.
func (m *SessionManager) CancelHints(ctx context.Context) int {
	m.mu.RLock()
	var live []*HintSession
	for _, rec := range m.sessions {
		if rec.hints != nil && rec.hints.Manager.Phase() != hint.Idle {
			live = append(live, rec.hints)
		}
	}
	m.mu.RUnlock()

	ended := 0
	for _, hs := range live {
		if err := hs.Manager.Cancel(ctx); err != nil {
			m.log.WithError(err).WithField("session_id", hs.SessionID).Debug("cancel hints")
		} else {
			ended++
		}
		hs.Close()
	}
	return ended
}
