package mcp

import (
	"context"
	"fmt"
	"time"

	"hintnav-mcp-server/internal/browser"
	"hintnav-mcp-server/internal/hint"
)

// defaultSettleWait bounds how long attach-hints waits for every frame to answer.
const defaultSettleWait = 5 * time.Second

func hintSession(sessions *browser.SessionManager, sessionID string) (*browser.HintSession, error) {
	hs, ok := sessions.Hints(sessionID)
	if !ok {
		return nil, fmt.Errorf("no hint session on %s: call attach-hints first", sessionID)
	}
	return hs, nil
}

func hintPayload(sessionID string, m *hint.Manager) map[string]interface{} {
	out := map[string]interface{}{
		"session_id": sessionID,
		"phase":      m.Phase().String(),
		"input":      m.Input(),
		"targets":    m.Targets(),
	}
	if hit, ok := m.HitTarget(); ok {
		out["hit"] = hit
	}
	return out
}

// AttachHintsTool labels every visible clickable element of a page.
type AttachHintsTool struct {
	sessions *browser.SessionManager
}

func (t *AttachHintsTool) Name() string { return "attach-hints" }
func (t *AttachHintsTool) Description() string {
	return `Label every visible, clickable element of a session's page with a short hint.

WHAT IT DOES:
- Walks the page and every reachable iframe, shadow roots included
- Keeps elements a user could actually click (not hidden, not covered)
- Assigns labels from the configured alphabet, shortest first
- Draws the labels as an overlay on the page

Fails on pages matching the blacklist and while hints are already attached.

Returns: {session_id, phase, settled, targets: [{id: {frameId, index}, hint, rects, state}]}`
}
func (t *AttachHintsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema("Session whose page gets hints"),
			"wait": map[string]interface{}{
				"type":        "boolean",
				"description": "Wait until every frame has answered (default true)",
			},
			"wait_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Upper bound for the wait in milliseconds (default 5000)",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *AttachHintsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID, err := requireSessionID(args)
	if err != nil {
		return nil, err
	}
	return attachHints(ctx, t.sessions, sessionID, args)
}

// attachHints starts a hint session and, unless wait is false, waits for it to settle.
func attachHints(ctx context.Context, sessions *browser.SessionManager, sessionID string, args map[string]interface{}) (map[string]interface{}, error) {
	hs, err := sessions.AttachHints(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	settled := false
	if getBoolArg(args, "wait", true) {
		wait := defaultSettleWait
		if ms := getIntArg(args, "wait_ms", 0); ms > 0 {
			wait = time.Duration(ms) * time.Millisecond
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-hs.Manager.Settled():
			settled = true
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := hintPayload(sessionID, hs.Manager)
	out["settled"] = settled
	return out, nil
}

// HitHintTool types hint letters.
type HitHintTool struct {
	sessions *browser.SessionManager
}

func (t *HitHintTool) Name() string { return "hit-hint" }
func (t *HitHintTool) Description() string {
	return `Type one or more hint letters into the live hint session.

Labels that no longer match the typed prefix become "disabled", labels still
matching stay "candidate", and the label equal to the input becomes "hit".
Letters outside the alphabet are ignored.

FOLLOW WITH remove-hints to run the hit element's action.

Returns: {session_id, phase, input, changed, hit?, targets}`
}
func (t *HitHintTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema("Session with attached hints"),
			"keys": map[string]interface{}{
				"type":        "string",
				"description": "Letters to type, in order",
			},
		},
		"required": []string{"session_id", "keys"},
	}
}
func (t *HitHintTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID, err := requireSessionID(args)
	if err != nil {
		return nil, err
	}
	keys := getStringArg(args, "keys")
	if keys == "" {
		return nil, fmt.Errorf("keys is required")
	}
	hs, err := hintSession(t.sessions, sessionID)
	if err != nil {
		return nil, err
	}

	changed := make([]hint.Target, 0)
	for _, r := range keys {
		c, err := hs.Manager.Hit(ctx, string(r))
		if err != nil {
			return nil, err
		}
		changed = append(changed, c...)
	}
	out := hintPayload(sessionID, hs.Manager)
	out["changed"] = changed
	return out, nil
}

// RemoveHintsTool ends the hint session, running the hit element's action.
type RemoveHintsTool struct {
	sessions *browser.SessionManager
}

func (t *RemoveHintsTool) Name() string { return "remove-hints" }
func (t *RemoveHintsTool) Description() string {
	return `End the hint session and run the action of the hit element, if any.

The action depends on the element: click links and buttons, focus text inputs
and editable regions, open select pickers, toggle details, focus frames and
scrollable boxes. Modifier keys are replayed on the synthetic mouse events
(ctrl/meta opens links in a new tab, for example).

Without a hit element the overlay is simply removed.

Returns: {session_id, hit?, status}`
}
func (t *RemoveHintsTool) InputSchema() map[string]interface{} {
	modifier := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "boolean",
			"description": "Hold " + name + " while the action runs",
		}
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema("Session with attached hints"),
			"shift":      modifier("Shift"),
			"alt":        modifier("Alt"),
			"ctrl":       modifier("Ctrl"),
			"meta":       modifier("Meta"),
		},
		"required": []string{"session_id"},
	}
}
func (t *RemoveHintsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID, err := requireSessionID(args)
	if err != nil {
		return nil, err
	}
	hit, err := t.sessions.RemoveHints(ctx, sessionID, modifierOptions(args))
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"session_id": sessionID,
		"status":     "removed",
	}
	if hit != nil {
		out["hit"] = hit
		out["status"] = "executed"
	}
	return out, nil
}

// HintStateTool reports the hint session of a page.
type HintStateTool struct {
	sessions *browser.SessionManager
}

func (t *HintStateTool) Name() string { return "hint-state" }
func (t *HintStateTool) Description() string {
	return `Report the hint session of a page: phase (idle, attaching, hinting),
typed input, every target with its state, and the hit target if any.

Cheap and side-effect free. Use it to poll while frames are still answering.`
}
func (t *HintStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDSchema("Session to inspect"),
		},
		"required": []string{"session_id"},
	}
}
func (t *HintStateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID, err := requireSessionID(args)
	if err != nil {
		return nil, err
	}
	hs, ok := t.sessions.Hints(sessionID)
	if !ok {
		return map[string]interface{}{
			"session_id": sessionID,
			"phase":      hint.Idle.String(),
			"targets":    []hint.Target{},
		}, nil
	}
	return hintPayload(sessionID, hs.Manager), nil
}
