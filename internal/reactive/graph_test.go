package reactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// counter records how often each compute function ran.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) wrap(name string, fn ComputeFunc) ComputeFunc {
	return func(ctx context.Context, deps Values) (any, error) {
		c.mu.Lock()
		if c.calls == nil {
			c.calls = make(map[string]int)
		}
		c.calls[name]++
		c.mu.Unlock()
		return fn(ctx, deps)
	}
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// diamond builds a -> {double, parity} -> sum, plus an unrelated input b
// feeding label.
func diamond(t *testing.T, c *counter) *Graph {
	t.Helper()
	g, err := NewBuilder().Logger(quiet).
		Input("a", 1).
		Input("b", "x").
		Derived("double", []string{"a"}, c.wrap("double", func(_ context.Context, d Values) (any, error) {
			return Dep[int](d, "a") * 2, nil
		})).
		Derived("parity", []string{"a"}, c.wrap("parity", func(_ context.Context, d Values) (any, error) {
			return Dep[int](d, "a") % 2, nil
		})).
		Derived("sum", []string{"double", "parity"}, c.wrap("sum", func(_ context.Context, d Values) (any, error) {
			return Dep[int](d, "double") + Dep[int](d, "parity"), nil
		})).
		Derived("label", []string{"b"}, c.wrap("label", func(_ context.Context, d Values) (any, error) {
			return "label:" + Dep[string](d, "b"), nil
		})).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	g.Refresh(context.Background())
	return g
}

func TestBuild_TopologicalOrderFollowsDeclaration(t *testing.T) {
	g := diamond(t, &counter{})
	want := []string{"a", "b", "double", "parity", "sum", "label"}
	if diff := cmp.Diff(want, g.Order()); diff != "" {
		t.Errorf("Order() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "double", "parity", "sum", "label"}, g.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Rejects(t *testing.T) {
	noop := func(context.Context, Values) (any, error) { return nil, nil }

	tests := []struct {
		name    string
		builder *Builder
		want    error
	}{
		{
			name:    "cycle",
			builder: NewBuilder().Input("in", 0).Derived("x", []string{"in", "y"}, noop).Derived("y", []string{"x"}, noop),
			want:    ErrCycle,
		},
		{
			name:    "self dependency",
			builder: NewBuilder().Derived("x", []string{"x"}, noop),
			want:    ErrCycle,
		},
		{
			name:    "unknown dependency",
			builder: NewBuilder().Derived("x", []string{"nope"}, noop),
			want:    ErrUnknownSignal,
		},
		{
			name:    "duplicate name",
			builder: NewBuilder().Input("x", 0).Derived("x", nil, noop),
			want:    ErrDuplicateSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRefresh_InitialEvaluation(t *testing.T) {
	c := &counter{}
	g := diamond(t, c)

	if got := Value[int](g, "sum"); got != 3 {
		t.Errorf("sum = %d, want 3", got)
	}
	if got := Value[string](g, "label"); got != "label:x" {
		t.Errorf("label = %q", got)
	}
	for _, name := range []string{"double", "parity", "sum", "label"} {
		if c.get(name) != 1 {
			t.Errorf("%s computed %d times, want 1", name, c.get(name))
		}
	}

	if changed := g.Refresh(context.Background()); len(changed) != 0 {
		t.Errorf("second Refresh() changed %v", changed)
	}
	if c.get("sum") != 1 {
		t.Error("second Refresh() should not recompute")
	}
}

func TestApply_RecomputesOnlyAffected(t *testing.T) {
	c := &counter{}
	g := diamond(t, c)

	changed, err := g.Set(context.Background(), "a", 2)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if diff := cmp.Diff([]string{"double", "parity", "sum"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if c.get("label") != 1 {
		t.Errorf("label recomputed %d times, want 1", c.get("label"))
	}
	if c.get("sum") != 2 {
		t.Errorf("sum computed %d times, want 2 (once per event)", c.get("sum"))
	}
	if got := Value[int](g, "sum"); got != 4 {
		t.Errorf("sum = %d, want 4", got)
	}
}

func TestApply_Idempotent(t *testing.T) {
	c := &counter{}
	g := diamond(t, c)

	before := map[string]uint64{}
	for _, name := range g.Names() {
		before[name] = g.Version(name)
	}

	changed, err := g.Set(context.Background(), "a", 1)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("setting the same value changed %v", changed)
	}
	for _, name := range g.Names() {
		if g.Version(name) != before[name] {
			t.Errorf("%s version moved from %d to %d", name, before[name], g.Version(name))
		}
	}
	if c.get("double") != 1 {
		t.Error("no recompute expected for an unchanged input")
	}
}

func TestApply_UnchangedOutputStopsPropagation(t *testing.T) {
	c := &counter{}
	g := diamond(t, c)

	// 1 -> 3 keeps parity at 1, so parity's dependents see no new version
	// from it; sum still runs because double moved.
	changed, _ := g.Set(context.Background(), "a", 3)
	if diff := cmp.Diff([]string{"double", "sum"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if g.Version("parity") != 1 {
		t.Errorf("parity version = %d, want 1", g.Version("parity"))
	}
}

func TestApply_MultipleInputsOneEvent(t *testing.T) {
	c := &counter{}
	g := diamond(t, c)

	changed, err := g.Apply(context.Background(), map[string]any{"a": 4, "b": "y"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if diff := cmp.Diff([]string{"double", "parity", "sum", "label"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if c.get("sum") != 2 {
		t.Errorf("sum computed %d times, want 2", c.get("sum"))
	}
}

func TestApply_RejectsBadNames(t *testing.T) {
	g := diamond(t, &counter{})

	if _, err := g.Set(context.Background(), "missing", 1); !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("unknown input: err = %v", err)
	}
	if _, err := g.Apply(context.Background(), map[string]any{"a": 9, "sum": 1}); !errors.Is(err, ErrNotInput) {
		t.Errorf("derived input: err = %v", err)
	}
	if Value[int](g, "a") != 1 {
		t.Error("a rejected event must not change any input")
	}
}

func TestCompute_FailureKeepsPreviousValue(t *testing.T) {
	boom := errors.New("boom")
	c := &counter{}
	g, err := NewBuilder().Logger(quiet).
		Input("n", 1).
		Derived("fragile", []string{"n"}, c.wrap("fragile", func(_ context.Context, d Values) (any, error) {
			n := Dep[int](d, "n")
			if n < 0 {
				return nil, boom
			}
			if n == 99 {
				panic("ninety-nine")
			}
			return n * 10, nil
		}), WithPlaceholder(-1)).
		Derived("sibling", []string{"n"}, c.wrap("sibling", func(_ context.Context, d Values) (any, error) {
			return Dep[int](d, "n") + 1, nil
		})).
		Derived("child", []string{"fragile"}, c.wrap("child", func(_ context.Context, d Values) (any, error) {
			return fmt.Sprint(Dep[int](d, "fragile")), nil
		})).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ctx := context.Background()
	g.Refresh(ctx)

	changed, err := g.Set(ctx, "n", -5)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if diff := cmp.Diff([]string{"sibling"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if got := Value[int](g, "fragile"); got != 10 {
		t.Errorf("fragile = %d, want previous value 10", got)
	}
	if !errors.Is(g.Err("fragile"), boom) {
		t.Errorf("Err(fragile) = %v", g.Err("fragile"))
	}
	if g.Version("fragile") != 1 {
		t.Errorf("fragile version = %d, want 1", g.Version("fragile"))
	}
	if c.get("child") != 1 {
		t.Error("child must not recompute after its dependency failed")
	}
	if Value[int](g, "sibling") != -4 {
		t.Error("sibling should still update")
	}

	if _, err := g.Set(ctx, "n", 99); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if g.Err("fragile") == nil {
		t.Error("panic should be recorded as an error")
	}

	if _, err := g.Set(ctx, "n", 2); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if g.Err("fragile") != nil || Value[string](g, "child") != "20" {
		t.Errorf("recovery failed: err=%v child=%q", g.Err("fragile"), Value[string](g, "child"))
	}
}

func TestCompute_PlaceholderUntilFirstSuccess(t *testing.T) {
	g, err := NewBuilder().Logger(quiet).
		Input("ok", false).
		Derived("view", []string{"ok"}, func(_ context.Context, d Values) (any, error) {
			if !Dep[bool](d, "ok") {
				return nil, errors.New("not yet")
			}
			return "ready", nil
		}, WithPlaceholder("loading")).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ctx := context.Background()

	g.Refresh(ctx)
	if Value[string](g, "view") != "loading" || g.Version("view") != 0 {
		t.Errorf("view = %q v%d, want placeholder at version 0", Value[string](g, "view"), g.Version("view"))
	}

	// Refresh retries failed signals.
	g.Refresh(ctx)
	if g.Err("view") == nil {
		t.Error("view should still be failing")
	}

	g.Set(ctx, "ok", true)
	if Value[string](g, "view") != "ready" || g.Version("view") != 1 {
		t.Errorf("view = %q v%d, want ready at version 1", Value[string](g, "view"), g.Version("view"))
	}
}

func TestRecompute(t *testing.T) {
	c := &counter{}
	g := diamond(t, c)

	changed, err := g.Recompute(context.Background(), "double")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if len(changed) != 0 || c.get("double") != 2 || c.get("sum") != 1 {
		t.Errorf("Recompute(double): changed=%v double=%d sum=%d", changed, c.get("double"), c.get("sum"))
	}
	if _, err := g.Recompute(context.Background(), "nope"); !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("Recompute(nope) error = %v", err)
	}
}

func TestGraph_ConcurrentEventsSerialize(t *testing.T) {
	g := diamond(t, &counter{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			if _, err := g.Set(context.Background(), "a", i); err != nil {
				t.Errorf("Set() error = %v", err)
			}
		})
	}
	wg.Wait()

	snap := g.Snapshot()
	a := snap["a"].(int)
	if snap["sum"].(int) != a*2+a%2 {
		t.Errorf("inconsistent snapshot: a=%d sum=%v", a, snap["sum"])
	}
}

func BenchmarkApply(b *testing.B) {
	g, _ := NewBuilder().Logger(quiet).
		Input("a", 0).
		Derived("double", []string{"a"}, func(_ context.Context, d Values) (any, error) {
			return Dep[int](d, "a") * 2, nil
		}).
		Build()
	ctx := context.Background()

	i := 0
	b.ResetTimer()
	for b.Loop() {
		i++
		g.Set(ctx, "a", i)
	}
}
