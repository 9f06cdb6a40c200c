// Package facts journals hint sessions into an embedded Mangle deductive database so
// they can be queried with Datalog.
package facts

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/sirupsen/logrus"

	"hintnav-mcp-server/internal/config"
)

//go:embed schema.mg
var builtinSchema string

// Fact is one journal entry.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Engine wraps a Mangle program over a bounded fact buffer.
type Engine struct {
	cfg config.FactsConfig
	log logrus.FieldLogger

	mu          sync.RWMutex
	source      string
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
}

// NewEngine loads the built-in schema plus the optional schema at cfg.SchemaPath.
func NewEngine(cfg config.FactsConfig, log logrus.FieldLogger) (*Engine, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Engine{
		cfg:   cfg,
		log:   log,
		store: factstore.NewSimpleInMemoryStore(),
		facts: make([]Fact, 0, cfg.FactBufferLimit),
		index: make(map[string][]int),
	}
	if !cfg.Enable {
		return e, nil
	}

	src := builtinSchema
	if cfg.SchemaPath != "" {
		extra, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		src += "\n" + string(extra)
	}
	info, err := analyze(src)
	if err != nil {
		return nil, err
	}
	e.source = src
	e.programInfo = info
	return e, nil
}

func analyze(src string) (*analysis.ProgramInfo, error) {
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze schema: %w", err)
	}
	return info, nil
}

// Ready reports whether queries can run.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.cfg.Enable || e.programInfo != nil
}

// AddRule extends the program with more declarations and rules. The whole program is
// re-analyzed so new rules may use any declared predicate.
func (e *Engine) AddRule(src string) error {
	if !e.cfg.Enable {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.source + "\n" + src
	info, err := analyze(next)
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	e.source = next
	e.programInfo = info
	return e.evalLocked()
}

// AddFacts journals facts and re-derives the program. Past the buffer limit the oldest
// facts are forgotten.
func (e *Engine) AddFacts(_ context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	base := len(e.facts)
	e.facts = append(e.facts, facts...)
	if limit := e.cfg.FactBufferLimit; limit > 0 && len(e.facts) > limit {
		e.facts = append([]Fact(nil), e.facts[len(e.facts)-limit:]...)
		e.rebuildLocked()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
			e.store.Add(factToAtom(f))
		}
	}
	return e.evalLocked()
}

// rebuildLocked refills the index and the store from the buffer.
func (e *Engine) rebuildLocked() {
	e.index = make(map[string][]int)
	e.store = factstore.NewSimpleInMemoryStore()
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
		e.store.Add(factToAtom(f))
	}
}

func (e *Engine) evalLocked() error {
	if e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		e.log.WithError(err).Warn("fact evaluation failed")
		return fmt.Errorf("eval program: %w", err)
	}
	return nil
}

// Query runs a single atom query such as `hint_target(Frame, Index, "A")` and returns
// the variable bindings of every matching fact, derived ones included.
func (e *Engine) Query(_ context.Context, query string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, fmt.Errorf("engine not ready")
	}
	query = strings.TrimSpace(query)
	if !strings.HasSuffix(query, ".") {
		query += "."
	}
	unit, err := parse.Unit(strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	q := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()
	results := make([]QueryResult, 0)
	err = e.store.GetFacts(q, func(atom ast.Atom) error {
		r := make(QueryResult)
		for i, arg := range q.Args {
			if v, ok := arg.(ast.Variable); ok && i < len(atom.Args) && v.Symbol != "_" {
				r[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate returns every fact of predicate, derived or journalled.
func (e *Engine) Evaluate(_ context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, fmt.Errorf("engine not ready")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}
	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	q := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	now := time.Now()
	out := make([]Fact, 0)
	err := e.store.GetFacts(q, func(atom ast.Atom) error {
		f := Fact{Predicate: predicate, Args: make([]interface{}, len(atom.Args)), Timestamp: now}
		for i, a := range atom.Args {
			f.Args[i] = convertConstant(a)
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// FactsByPredicate returns the journalled facts of predicate in arrival order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := e.index[predicate]
	out := make([]Fact, 0, len(idx))
	for _, i := range idx {
		out = append(out, e.facts[i])
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, a := range f.Args {
		args[i] = toConstant(a)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case uint64:
		return ast.Number(int64(val))
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(t ast.BaseTerm) interface{} {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		if s, err := c.StringValue(); err == nil {
			return s
		}
	case ast.NumberType:
		if n, err := c.NumberValue(); err == nil {
			return n
		}
	case ast.Float64Type:
		if f, err := c.Float64Value(); err == nil {
			return f
		}
	}
	return c.String()
}
