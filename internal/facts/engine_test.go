package facts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"hintnav-mcp-server/internal/action"
	"hintnav-mcp-server/internal/aggregate"
	"hintnav-mcp-server/internal/config"
	"hintnav-mcp-server/internal/hint"
)

func newEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	e, err := NewEngine(config.FactsConfig{Enable: true, FactBufferLimit: limit}, logger)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if !e.Ready() {
		t.Fatal("engine not ready after schema load")
	}
	return e
}

func TestEngineDisabled(t *testing.T) {
	e, err := NewEngine(config.FactsConfig{Enable: false}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.AddFacts(context.Background(), []Fact{{Predicate: "hint_round", Args: []interface{}{1}}}); err != nil {
		t.Errorf("AddFacts should be a no-op when disabled: %v", err)
	}
	if len(e.Facts()) != 0 {
		t.Error("disabled engine journalled facts")
	}
	if !e.Ready() {
		t.Error("disabled engine should report ready")
	}
	if _, err := e.Query(context.Background(), "hint_round(R)"); err == nil {
		t.Error("query on a disabled engine should fail")
	}
}

func TestQueryBindsVariables(t *testing.T) {
	e := newEngine(t, 100)
	ctx := context.Background()
	err := e.AddFacts(ctx, []Fact{
		{Predicate: "hint_target", Args: []interface{}{int64(1), 0, 0, "A"}},
		{Predicate: "hint_target", Args: []interface{}{int64(1), 0, 1, "S"}},
		{Predicate: "hint_target", Args: []interface{}{int64(1), 2, 0, "D"}},
	})
	if err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	all, err := e.Query(ctx, "hint_target(R, Frame, Index, Hint)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 results, got %d", len(all))
	}

	one, err := e.Query(ctx, `hint_target(1, Frame, Index, "D").`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(one) != 1 || one[0]["Frame"] != int64(2) || one[0]["Index"] != int64(0) {
		t.Errorf("unexpected bindings %v", one)
	}
}

func TestQueryRejectsGarbage(t *testing.T) {
	e := newEngine(t, 100)
	if _, err := e.Query(context.Background(), "hint_target(("); err == nil {
		t.Error("expected parse error")
	}
}

func TestDerivedPredicates(t *testing.T) {
	e := newEngine(t, 100)
	ctx := context.Background()
	_ = e.AddFacts(ctx, []Fact{
		{Predicate: "hint_round", Args: []interface{}{int64(7)}},
		{Predicate: "hint_target", Args: []interface{}{int64(7), 1, 3, "AS"}},
		{Predicate: "hint_state", Args: []interface{}{int64(7), "AS", "hit"}},
		{Predicate: "hint_action", Args: []interface{}{int64(7), 1, 3, "click"}},
		{Predicate: "aggregation_timeout", Args: []interface{}{int64(7)}},
		// A later round reuses the element and label but runs nothing.
		{Predicate: "hint_round", Args: []interface{}{int64(8)}},
		{Predicate: "hint_target", Args: []interface{}{int64(8), 1, 3, "AS"}},
		{Predicate: "hint_state", Args: []interface{}{int64(8), "AS", "init"}},
	})

	hits, err := e.Evaluate(ctx, "hit_hint")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Args[0] != int64(7) || hits[0].Args[1] != "AS" {
		t.Errorf("hit_hint = %v", hits)
	}
	if later, _ := e.Query(ctx, "hit_hint(8, Hint)"); len(later) != 0 {
		t.Errorf("round 8 reports hits of round 7: %v", later)
	}

	executed, err := e.Query(ctx, "executed(R, Hint, Short)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(executed) != 1 || executed[0]["R"] != int64(7) || executed[0]["Hint"] != "AS" || executed[0]["Short"] != "click" {
		t.Errorf("executed = %v", executed)
	}

	timedOut, _ := e.Query(ctx, "timed_out_round(R)")
	if len(timedOut) != 1 || timedOut[0]["R"] != int64(7) {
		t.Errorf("timed_out_round = %v", timedOut)
	}

	if _, err := e.Evaluate(ctx, "no_such_predicate"); err == nil {
		t.Error("expected error for an undeclared predicate")
	}
}

func TestAddRule(t *testing.T) {
	e := newEngine(t, 100)
	rule := `
Decl frame_hint(Hint).
frame_hint(Hint) :- hint_target(_, 2, _, Hint).
`
	if err := e.AddRule(rule); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	_ = e.AddFacts(context.Background(), []Fact{
		{Predicate: "hint_target", Args: []interface{}{int64(1), 2, 0, "F"}},
		{Predicate: "hint_target", Args: []interface{}{int64(1), 0, 0, "A"}},
	})
	got, err := e.Query(context.Background(), "frame_hint(H)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0]["H"] != "F" {
		t.Errorf("frame_hint = %v", got)
	}

	if err := e.AddRule("broken :- ("); err == nil {
		t.Error("expected error for malformed rule")
	}
}

func TestSchemaPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.mg")
	extra := "Decl disabled_hint(Hint).\ndisabled_hint(H) :- hint_state(_, H, \"disabled\").\n"
	if err := os.WriteFile(path, []byte(extra), 0644); err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(config.FactsConfig{Enable: true, SchemaPath: path}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	_ = e.AddFacts(context.Background(), []Fact{{Predicate: "hint_state", Args: []interface{}{int64(1), "S", "disabled"}}})
	got, _ := e.Query(context.Background(), "disabled_hint(H)")
	if len(got) != 1 {
		t.Errorf("disabled_hint = %v", got)
	}

	if _, err := NewEngine(config.FactsConfig{Enable: true, SchemaPath: "/nonexistent.mg"}, nil); err == nil {
		t.Error("expected error for missing schema file")
	}
}

func TestBufferLimitForgetsOldestFacts(t *testing.T) {
	e := newEngine(t, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = e.AddFacts(ctx, []Fact{{Predicate: "hint_round", Args: []interface{}{int64(i)}}})
	}
	rounds := e.FactsByPredicate("hint_round")
	if len(rounds) != 3 {
		t.Fatalf("expected 3 buffered rounds, got %d", len(rounds))
	}
	if rounds[0].Args[0] != int64(2) {
		t.Errorf("oldest kept round = %v", rounds[0].Args[0])
	}
	got, _ := e.Query(ctx, "hint_round(R)")
	if len(got) != 3 {
		t.Errorf("store still holds %d rounds", len(got))
	}
}

func TestJournal(t *testing.T) {
	e := newEngine(t, 100)
	j := NewJournal(e, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	a := hint.Target{ID: aggregate.ElementID{FrameID: 0, Index: 0}, Hint: "A"}
	s := hint.Target{ID: aggregate.ElementID{FrameID: 1, Index: 4}, Hint: "S"}
	first := j.Session()
	first.Attached(9)
	first.Assigned([]hint.Target{a, s})
	s.State = hint.Hit
	a.State = hint.Disabled
	first.Changed([]hint.Target{a, s})
	first.Removed(&s, &action.Descriptions{Short: "click"}, nil)
	j.Timeout(9)

	s.State, a.State = hint.Init, hint.Init
	second := j.Session()
	second.Attached(10)
	second.Assigned([]hint.Target{a, s})
	second.Removed(&a, nil, errors.New("frame gone"))

	if got := len(e.FactsByPredicate("hint_target")); got != 4 {
		t.Errorf("hint_target facts = %d", got)
	}
	if f := e.FactsByPredicate("hint_round"); len(f) != 2 || !f[0].Timestamp.Equal(fixed) {
		t.Errorf("hint_round = %v", f)
	}
	if f := e.FactsByPredicate("hint_removed"); len(f) != 2 {
		t.Errorf("hint_removed = %v", f)
	}
	executed, _ := e.Query(context.Background(), "executed(R, Hint, Short)")
	if len(executed) != 1 || executed[0]["R"] != int64(9) || executed[0]["Hint"] != "S" {
		t.Errorf("executed = %v", executed)
	}
	if hits, _ := e.Query(context.Background(), "hit_hint(10, Hint)"); len(hits) != 0 {
		t.Errorf("second round inherited hits: %v", hits)
	}
	failed := e.FactsByPredicate("hint_action_failed")
	if len(failed) != 1 || failed[0].Args[0] != int64(10) || failed[0].Args[2] != "frame gone" {
		t.Errorf("hint_action_failed = %v", failed)
	}
	timedOut, _ := e.Query(context.Background(), "timed_out_round(R)")
	if len(timedOut) != 1 || timedOut[0]["R"] != int64(9) {
		t.Errorf("timed_out_round = %v", timedOut)
	}
}
