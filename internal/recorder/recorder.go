// Package recorder writes one JSONL trace per hint session and keeps only the newest
// few traces.
package recorder

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/hint"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Event types written by the session observer.
const (
	EventAttach  = "attach"
	EventBatch   = "batch"
	EventHit     = "hit"
	EventRemove  = "remove"
	EventTimeout = "timeout"
)

// Event is one line of a trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder owns the trace directory.
type Recorder struct {
	fs       afero.Fs
	basePath string
	now      func() time.Time

	mu      sync.Mutex
	file    afero.File
	encoder *json.Encoder
}

// NewRecorder creates a recorder writing under basePath, creating it if needed.
func NewRecorder(fs afero.Fs, basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := fs.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{fs: fs, basePath: basePath, now: time.Now}, nil
}

// Start closes the current trace and opens a new one for sessionID, dropping old
// traces so at most MaxRotatedFiles remain.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	// The millisecond stamp leads so names sort oldest first.
	name := fmt.Sprintf("trace_%013d_%s.jsonl", r.now().UnixMilli(), sessionID)
	f, err := r.fs.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	return nil
}

// Log appends an event to the current trace. Without a trace it does nothing.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: r.now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}

// rotate keeps the newest MaxRotatedFiles-1 traces to make room for a new one.
func (r *Recorder) rotate() error {
	entries, err := afero.ReadDir(r.fs, r.basePath)
	if err != nil {
		return err
	}
	var traces []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || !strings.HasPrefix(e.Name(), "trace_") {
			continue
		}
		traces = append(traces, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(traces)))

	for i := MaxRotatedFiles - 1; i < len(traces); i++ {
		_ = r.fs.Remove(filepath.Join(r.basePath, traces[i]))
	}
	return nil
}

func (r *Recorder) closeLocked() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	return err
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

// Observer returns a hint.Observer that traces the sessions of browser session
// sessionID.
func (r *Recorder) Observer(sessionID string) *SessionTrace {
	return &SessionTrace{rec: r, session: sessionID}
}

// SessionTrace writes hint transitions into a recorder.
type SessionTrace struct {
	rec     *Recorder
	session string
}

var _ hint.Observer = (*SessionTrace)(nil)

type targetEntry struct {
	Frame int    `json:"frame"`
	Index int    `json:"index"`
	Hint  string `json:"hint"`
	State string `json:"state"`
}

func entries(targets []hint.Target) []targetEntry {
	out := make([]targetEntry, len(targets))
	for i, t := range targets {
		out[i] = targetEntry{Frame: t.ID.FrameID, Index: t.ID.Index, Hint: t.Hint, State: t.State.String()}
	}
	return out
}

func (s *SessionTrace) Attached(requestID uint64) {
	if err := s.rec.Start(s.session); err != nil {
		return
	}
	s.rec.Log(EventAttach, s.session, map[string]uint64{"request_id": requestID})
}

func (s *SessionTrace) Assigned(targets []hint.Target) {
	s.rec.Log(EventBatch, s.session, entries(targets))
}

func (s *SessionTrace) Changed(changed []hint.Target) {
	s.rec.Log(EventHit, s.session, entries(changed))
}

func (s *SessionTrace) Removed(hit *hint.Target, desc *action.Descriptions, err error) {
	data := map[string]interface{}{}
	if hit != nil {
		data["hint"] = hit.Hint
	}
	if desc != nil {
		data["action"] = desc.Short
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.rec.Log(EventRemove, s.session, data)
	_ = s.rec.Close()
}

// Timeout records a round that hit its deadline.
func (s *SessionTrace) Timeout(requestID uint64) {
	s.rec.Log(EventTimeout, s.session, map[string]uint64{"request_id": requestID})
}
