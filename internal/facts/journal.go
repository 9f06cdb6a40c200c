package facts

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/hint"
)

// Journal turns hint session transitions into facts. Session returns the observer of
// one hint session; Timeout fits collector.Options.OnTimeout.
type Journal struct {
	engine *Engine
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewJournal writes into engine.
func NewJournal(engine *Engine, log logrus.FieldLogger) *Journal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{engine: engine, log: log, now: time.Now}
}

func (j *Journal) add(facts ...Fact) {
	ts := j.now()
	for i := range facts {
		facts[i].Timestamp = ts
	}
	if err := j.engine.AddFacts(context.Background(), facts); err != nil {
		j.log.WithError(err).Warn("journal hint facts")
	}
}

// Timeout records a round that hit its deadline.
func (j *Journal) Timeout(requestID uint64) {
	j.add(Fact{Predicate: "aggregation_timeout", Args: []interface{}{int64(requestID)}})
}

// Session returns an observer for one hint session. Its facts are keyed by the
// request id it is attached with.
func (j *Journal) Session() *SessionJournal {
	return &SessionJournal{j: j}
}

// SessionJournal journals the transitions of one hint session.
type SessionJournal struct {
	j *Journal

	mu        sync.Mutex
	requestID int64
}

var _ hint.Observer = (*SessionJournal)(nil)

func (s *SessionJournal) round() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

func (s *SessionJournal) Attached(requestID uint64) {
	s.mu.Lock()
	s.requestID = int64(requestID)
	s.mu.Unlock()
	s.j.add(Fact{Predicate: "hint_round", Args: []interface{}{int64(requestID)}})
}

func (s *SessionJournal) Assigned(targets []hint.Target) {
	r := s.round()
	facts := make([]Fact, 0, 2*len(targets))
	for _, t := range targets {
		facts = append(facts,
			Fact{Predicate: "hint_target", Args: []interface{}{r, t.ID.FrameID, t.ID.Index, t.Hint}},
			Fact{Predicate: "hint_state", Args: []interface{}{r, t.Hint, t.State.String()}},
		)
	}
	s.j.add(facts...)
}

func (s *SessionJournal) Changed(changed []hint.Target) {
	r := s.round()
	facts := make([]Fact, 0, len(changed))
	for _, t := range changed {
		facts = append(facts, Fact{Predicate: "hint_state", Args: []interface{}{r, t.Hint, t.State.String()}})
	}
	s.j.add(facts...)
}

func (s *SessionJournal) Removed(hit *hint.Target, desc *action.Descriptions, err error) {
	r := s.round()
	facts := []Fact{{Predicate: "hint_removed", Args: []interface{}{r}}}
	switch {
	case hit == nil:
	case err != nil:
		facts = append(facts, Fact{Predicate: "hint_action_failed", Args: []interface{}{r, hit.Hint, err.Error()}})
	case desc != nil:
		facts = append(facts, Fact{Predicate: "hint_action", Args: []interface{}{r, hit.ID.FrameID, hit.ID.Index, desc.Short}})
	}
	s.j.add(facts...)
}
