package mcp

import (
	"context"
	"fmt"
	"sort"

	"hintnav-mcp-server/internal/browser"
	"hintnav-mcp-server/internal/hint"
)

// sessionListing is a session with the state of its latest hint session.
type sessionListing struct {
	browser.Session
	HintPhase   string `json:"hint_phase"`
	HintTargets int    `json:"hint_targets"`
	HintInput   string `json:"hint_input,omitempty"`
}

func listSession(meta browser.Session, hs *browser.HintSession) sessionListing {
	out := sessionListing{Session: meta, HintPhase: hint.Idle.String()}
	if hs == nil {
		return out
	}
	out.HintPhase = hs.Manager.Phase().String()
	if out.HintPhase != hint.Idle.String() {
		out.HintTargets = len(hs.Manager.Targets())
		out.HintInput = hs.Manager.Input()
	}
	return out
}

// hintArgs are the attach-hints options accepted by the session tools.
var hintArgs = map[string]interface{}{
	"attach_hints": map[string]interface{}{
		"type":        "boolean",
		"description": "Label the page's clickable elements right away (default false)",
	},
	"wait_ms": map[string]interface{}{
		"type":        "integer",
		"description": "With attach_hints, upper bound for the settle wait in milliseconds (default 5000)",
	},
}

// withHints attaches hints to a new session when the caller asked for it.
func withHints(ctx context.Context, sessions *browser.SessionManager, sess *browser.Session, args map[string]interface{}) (interface{}, error) {
	out := map[string]interface{}{"session": sess}
	if !getBoolArg(args, "attach_hints", false) {
		return out, nil
	}
	hints, err := attachHints(ctx, sessions, sess.ID, args)
	if err != nil {
		return nil, fmt.Errorf("session %s opened, attach hints: %w", sess.ID, err)
	}
	out["hints"] = hints
	return out, nil
}

// ListSessionsTool lists tracked pages with their hint state.
type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List the tracked pages and the state of their hints.

hint_phase is idle, attaching or hinting. While hints are live, hint_targets
counts the labelled elements and hint_input holds the letters typed so far.

Sessions restored from the session store are "detached" and cannot take hints
until attach-session binds a live tab again.

Returns: {sessions: [{id, target_id, url, title, status, hint_phase, hint_targets, hint_input}], hinting}`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"hinting_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Only list sessions whose hints are live",
			},
		},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	hintingOnly := getBoolArg(args, "hinting_only", false)
	metas := t.sessions.List()
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.Before(metas[j].CreatedAt) })

	out := make([]sessionListing, 0, len(metas))
	hinting := 0
	for _, meta := range metas {
		hs, _ := t.sessions.Hints(meta.ID)
		l := listSession(meta, hs)
		live := l.HintPhase != hint.Idle.String()
		if live {
			hinting++
		}
		if hintingOnly && !live {
			continue
		}
		out = append(out, l)
	}
	return map[string]interface{}{"sessions": out, "hinting": hinting}, nil
}

// CreateSessionTool opens a page to hint.
type CreateSessionTool struct {
	sessions *browser.SessionManager
}

func (t *CreateSessionTool) Name() string { return "create-session" }
func (t *CreateSessionTool) Description() string {
	return `Open a page in an isolated incognito tab, ready for hints.

The viewport uses the configured size so hint geometry is stable. Loading is
best effort: hints work on whatever has rendered when the navigation timeout
ends. With attach_hints the page is labelled in the same call.

Returns: {session: {id, url, title}, hints?: {phase, settled, targets}}`
}
func (t *CreateSessionTool) InputSchema() map[string]interface{} {
	props := map[string]interface{}{
		"url": map[string]interface{}{
			"type":        "string",
			"description": "Page to open (default about:blank)",
		},
	}
	for k, v := range hintArgs {
		props[k] = v
	}
	return map[string]interface{}{"type": "object", "properties": props}
}
func (t *CreateSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}
	sess, err := t.sessions.CreateSession(ctx, url)
	if err != nil {
		return nil, err
	}
	return withHints(ctx, t.sessions, sess, args)
}

// AttachSessionTool tracks an existing tab so it can take hints.
type AttachSessionTool struct {
	sessions *browser.SessionManager
}

func (t *AttachSessionTool) Name() string { return "attach-session" }
func (t *AttachSessionTool) Description() string {
	return `Track an existing Chrome tab by its CDP TargetID so it can take hints.

Use it for a tab opened by hand or by another process, or to revive a
"detached" session restored from the session store. The lookup is bounded by
browser.default_attach_timeout. With attach_hints the tab is labelled in the
same call.

Returns: {session: {id, url, title}, hints?: {phase, settled, targets}}`
}
func (t *AttachSessionTool) InputSchema() map[string]interface{} {
	props := map[string]interface{}{
		"target_id": map[string]interface{}{
			"type":        "string",
			"description": "CDP TargetID of the tab",
		},
	}
	for k, v := range hintArgs {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"target_id"},
	}
}
func (t *AttachSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}
	sess, err := t.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return withHints(ctx, t.sessions, sess, args)
}

// LaunchBrowserTool starts Chrome using the configured launch command.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Connect to Chrome, or launch it, so pages can take hints.

Uses browser.debugger_url when set, otherwise browser.launch. Calling it while
connected changes nothing.

WORKFLOW:
1. launch-browser
2. create-session or attach-session
3. attach-hints, hit-hint, remove-hints
4. shutdown-browser

Returns: {status: "started"|"already_connected", control_url, sessions}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	status := "already_connected"
	if !t.sessions.IsConnected() {
		if err := t.sessions.Start(ctx); err != nil {
			return nil, err
		}
		status = "started"
	}
	return map[string]interface{}{
		"status":      status,
		"control_url": t.sessions.ControlURL(),
		"sessions":    len(t.sessions.List()),
	}, nil
}

// ShutdownBrowserTool ends live hints, then closes every page and the browser.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `End every live hint session, then close all tracked pages and Chrome.

Live hints are cancelled without running the hit element's action and their
overlays are removed first. The hint fact journal survives the shutdown.

Returns: {status: "stopped", hints_cancelled, sessions_closed}`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	cancelled := t.sessions.CancelHints(ctx)
	closed := len(t.sessions.List())
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":          "stopped",
		"hints_cancelled": cancelled,
		"sessions_closed": closed,
	}, nil
}
