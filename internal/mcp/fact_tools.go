package mcp

import (
	"context"
	"fmt"

	"hintnav-mcp-server/internal/facts"
)

// QueryHintFactsTool runs a Datalog query over the hint journal.
type QueryHintFactsTool struct {
	engine *facts.Engine
}

func (t *QueryHintFactsTool) Name() string { return "query-hint-facts" }
func (t *QueryHintFactsTool) Description() string {
	return `Run a Mangle query over the journal of hint sessions.

Every fact of a hint session carries the RequestID of its attach-hints round, so
labels reused by a later round never mix with earlier ones.

JOURNALLED FACTS:
- hint_round(RequestID)                            one per attach-hints
- hint_target(RequestID, Frame, Index, Hint)       every labelled element
- hint_state(RequestID, Hint, State)               init, candidate, hit, disabled
- hint_action(RequestID, Frame, Index, Short)      action run by remove-hints
- hint_action_failed(RequestID, Hint, Reason)
- hint_removed(RequestID)                          remove-hints ended the round
- aggregation_timeout(RequestID)                   rounds where a frame never answered

DERIVED:
- hit_hint(RequestID, Hint), executed(RequestID, Hint, Short), timed_out_round(RequestID)

EXAMPLES:
- executed(R, Hint, Short)
- hint_target(R, Frame, Index, "AS")

Returns: {query, results: [{Var: value}], count}`
}
func (t *QueryHintFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Single atom query, variables capitalized",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryHintFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"query":   query,
		"results": results,
		"count":   len(results),
	}, nil
}

// ReadHintFactsTool returns the newest journalled facts.
type ReadHintFactsTool struct {
	engine *facts.Engine
}

func (t *ReadHintFactsTool) Name() string { return "read-hint-facts" }
func (t *ReadHintFactsTool) Description() string {
	return `Read the newest journalled hint facts, optionally for one predicate.

Returns: {facts: [{predicate, args, timestamp}], count}`
}
func (t *ReadHintFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Only facts of this predicate",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Most recent facts to return (default 50, max 500)",
			},
		},
	}
}
func (t *ReadHintFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var source []facts.Fact
	if predicate := getStringArg(args, "predicate"); predicate != "" {
		source = t.engine.FactsByPredicate(predicate)
	} else {
		source = t.engine.Facts()
	}
	if len(source) > limit {
		source = source[len(source)-limit:]
	}
	return map[string]interface{}{
		"facts": source,
		"count": len(source),
	}, nil
}

// SubmitHintRuleTool extends the journal program with new rules.
type SubmitHintRuleTool struct {
	engine *facts.Engine
}

func (t *SubmitHintRuleTool) Name() string { return "submit-hint-rule" }
func (t *SubmitHintRuleTool) Description() string {
	return `Add Mangle declarations and rules over the hint journal.

EXAMPLE:
  Decl frame_hint(RequestID, Hint).
  frame_hint(R, Hint) :- hint_target(R, 1, _, Hint).

Rules can use every journalled and derived predicate. Query the result with
query-hint-facts or evaluate-hint-rule.

Returns: {status: "accepted"}`
}
func (t *SubmitHintRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitHintRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "accepted"}, nil
}

// EvaluateHintRuleTool lists every fact of a declared predicate.
type EvaluateHintRuleTool struct {
	engine *facts.Engine
}

func (t *EvaluateHintRuleTool) Name() string { return "evaluate-hint-rule" }
func (t *EvaluateHintRuleTool) Description() string {
	return `List every fact of a declared predicate, derived ones included.

Returns: {predicate, facts, count}`
}
func (t *EvaluateHintRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Declared predicate name, e.g. executed",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *EvaluateHintRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	out, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"predicate": predicate,
		"facts":     out,
		"count":     len(out),
	}, nil
}
