// Package reactive is a small dataflow runtime: named input signals feed
// derived signals, and setting inputs recomputes only what depends on
// what actually changed.
package reactive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"konut-dashboard/internal/observability"
)

var (
	ErrUnknownSignal   = errors.New("unknown signal")
	ErrNotInput        = errors.New("signal is not an input")
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrCycle           = errors.New("dependency cycle")
)

// Values holds the dependency values passed to a ComputeFunc, by name.
type Values map[string]any

// Dep returns the dependency called name as a T, or T's zero value when
// it is missing or of another type.
func Dep[T any](v Values, name string) T {
	t, _ := v[name].(T)
	return t
}

// ComputeFunc derives a signal's value from its dependencies.
type ComputeFunc func(ctx context.Context, deps Values) (any, error)

type Option func(*node)

// WithPlaceholder sets the value a derived signal holds until its first
// successful computation.
func WithPlaceholder(v any) Option {
	return func(n *node) { n.value = v }
}

// WithEqual replaces reflect.DeepEqual as the change test for a signal.
func WithEqual(eq func(a, b any) bool) Option {
	return func(n *node) { n.equal = eq }
}

type node struct {
	name       string
	index      int
	input      bool
	depNames   []string
	deps       []*node
	dependents []*node
	compute    ComputeFunc
	equal      func(a, b any) bool

	value     any
	version   uint64
	err       error
	evaluated bool
	// seen holds the version of each dep at the last computation.
	seen []uint64
}

// Builder declares the signals of a Graph. The first declaration error
// is reported by Build.
type Builder struct {
	nodes  []*node
	byName map[string]*node
	logger *slog.Logger
	err    error
}

func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]*node)}
}

func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) Input(name string, initial any, opts ...Option) *Builder {
	b.add(&node{name: name, input: true, value: initial, version: 1, evaluated: true}, opts)
	return b
}

func (b *Builder) Derived(name string, deps []string, compute ComputeFunc, opts ...Option) *Builder {
	if compute == nil && b.err == nil {
		b.err = fmt.Errorf("signal %q: nil compute function", name)
	}
	b.add(&node{name: name, depNames: slices.Clone(deps), compute: compute}, opts)
	return b
}

func (b *Builder) add(n *node, opts []Option) {
	if b.err != nil {
		return
	}
	if _, dup := b.byName[n.name]; dup {
		b.err = fmt.Errorf("%w: %q", ErrDuplicateSignal, n.name)
		return
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.equal == nil {
		n.equal = reflect.DeepEqual
	}
	n.index = len(b.nodes)
	b.nodes = append(b.nodes, n)
	b.byName[n.name] = n
}

// Build resolves dependencies and fixes the evaluation order. Among
// signals that are ready at the same time, the one declared first goes
// first.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}

	indegree := make([]int, len(b.nodes))
	for _, n := range b.nodes {
		for _, name := range n.depNames {
			dep, ok := b.byName[name]
			if !ok {
				return nil, fmt.Errorf("signal %q depends on %w %q", n.name, ErrUnknownSignal, name)
			}
			n.deps = append(n.deps, dep)
			dep.dependents = append(dep.dependents, n)
			indegree[n.index]++
		}
		n.seen = make([]uint64, len(n.deps))
	}

	// Kahn's algorithm with a ready list ordered by declaration index.
	var ready []int
	for i := range b.nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]*node, 0, len(b.nodes))
	for len(ready) > 0 {
		n := b.nodes[ready[0]]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range n.dependents {
			indegree[d.index]--
			if indegree[d.index] == 0 {
				pos, _ := slices.BinarySearch(ready, d.index)
				ready = slices.Insert(ready, pos, d.index)
			}
		}
	}

	if len(order) < len(b.nodes) {
		var stuck []string
		for i, n := range b.nodes {
			if indegree[i] > 0 {
				stuck = append(stuck, n.name)
			}
		}
		return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{nodes: b.nodes, byName: b.byName, order: order, logger: logger}, nil
}

// Graph holds the current value and version of every signal. Events are
// applied one at a time.
type Graph struct {
	mu     sync.Mutex
	nodes  []*node
	byName map[string]*node
	order  []*node
	logger *slog.Logger
}

// Apply sets the given inputs as one event and recomputes every derived
// signal whose dependencies moved. An input's version changes only when
// its value does. It returns the derived signals whose value changed, in
// evaluation order. Unknown or derived names reject the whole event.
func (g *Graph) Apply(ctx context.Context, updates map[string]any) (changed []string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "graph.apply", attribute.Int("graph.updates", len(updates)))
	defer func() { observability.EndSpan(span, err) }()

	targets := make([]*node, 0, len(updates))
	for name := range updates {
		n, ok := g.byName[name]
		switch {
		case !ok:
			return nil, fmt.Errorf("%w %q", ErrUnknownSignal, name)
		case !n.input:
			return nil, fmt.Errorf("%w: %q", ErrNotInput, name)
		}
		targets = append(targets, n)
	}
	slices.SortFunc(targets, func(a, b *node) int { return a.index - b.index })

	for _, n := range targets {
		v := updates[n.name]
		if n.equal(n.value, v) {
			continue
		}
		n.value = v
		n.version++
	}

	graphEventsTotal.Inc()
	changed = g.propagate(ctx, nil)
	span.SetAttributes(attribute.StringSlice("graph.changed", changed))
	return changed, nil
}

// Set is Apply with a single input.
func (g *Graph) Set(ctx context.Context, name string, value any) ([]string, error) {
	return g.Apply(ctx, map[string]any{name: value})
}

// Refresh computes every derived signal that has never been computed or
// whose last computation failed.
func (g *Graph) Refresh(ctx context.Context) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	force := make(map[*node]bool)
	for _, n := range g.order {
		if !n.input && (!n.evaluated || n.err != nil) {
			force[n] = true
		}
	}
	return g.propagate(ctx, force)
}

// Recompute forces the named derived signals to run again, along with
// anything that changes as a result.
func (g *Graph) Recompute(ctx context.Context, names ...string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	force := make(map[*node]bool, len(names))
	for _, name := range names {
		n, ok := g.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownSignal, name)
		}
		if !n.input {
			force[n] = true
		}
	}
	return g.propagate(ctx, force), nil
}

// propagate walks the derived signals in topological order. Callers hold
// g.mu.
func (g *Graph) propagate(ctx context.Context, force map[*node]bool) []string {
	var changed []string
	for _, n := range g.order {
		if n.input || !(force[n] || n.stale()) {
			continue
		}
		if g.recompute(ctx, n) {
			changed = append(changed, n.name)
		}
	}
	return changed
}

func (n *node) stale() bool {
	if !n.evaluated {
		return true
	}
	for i, dep := range n.deps {
		if dep.version != n.seen[i] {
			return true
		}
	}
	return false
}

// recompute runs n's compute function and reports whether its value
// changed. A failure keeps the previous value and version.
func (g *Graph) recompute(ctx context.Context, n *node) bool {
	deps := make(Values, len(n.deps))
	for i, dep := range n.deps {
		deps[dep.name] = dep.value
		n.seen[i] = dep.version
	}
	n.evaluated = true

	ctx, span := observability.StartSpan(ctx, "graph.compute", attribute.String("graph.signal", n.name))
	start := time.Now()
	v, err := safeCompute(ctx, n, deps)
	recomputeDuration.WithLabelValues(n.name).Observe(time.Since(start).Seconds())
	observability.EndSpan(span, err)

	if err != nil {
		n.err = err
		recomputeTotal.WithLabelValues(n.name, "error").Inc()
		g.logger.WarnContext(ctx, "signal compute failed", "signal", n.name, "error", err)
		return false
	}
	n.err = nil

	if n.version > 0 && n.equal(n.value, v) {
		recomputeTotal.WithLabelValues(n.name, "unchanged").Inc()
		return false
	}
	n.value = v
	n.version++
	recomputeTotal.WithLabelValues(n.name, "changed").Inc()
	return true
}

func safeCompute(ctx context.Context, n *node, deps Values) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal %q panicked: %v", n.name, r)
		}
	}()
	return n.compute(ctx, deps)
}

// Get returns the current value of a signal.
func (g *Graph) Get(name string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return n.value, true
}

// Value returns the signal called name as a T, or T's zero value.
func Value[T any](g *Graph, name string) T {
	v, _ := g.Get(name)
	t, _ := v.(T)
	return t
}

// Version returns how many times the signal's value has changed. A
// derived signal that has never succeeded is at version 0.
func (g *Graph) Version(name string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.byName[name]; ok {
		return n.version
	}
	return 0
}

// Err returns the error of the signal's last computation, if it failed.
func (g *Graph) Err(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.byName[name]; ok {
		return n.err
	}
	return nil
}

// Names returns every signal in declaration order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.name
	}
	return names
}

// Order returns every signal in evaluation order.
func (g *Graph) Order() []string {
	names := make([]string, len(g.order))
	for i, n := range g.order {
		names[i] = n.name
	}
	return names
}

// Snapshot returns the current value of every signal.
func (g *Graph) Snapshot() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]any, len(g.nodes))
	for _, n := range g.nodes {
		out[n.name] = n.value
	}
	return out
}
