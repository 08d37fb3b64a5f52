package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/memstore"
)

// fakeSource serves fixed definitions and current values.
type fakeSource struct {
	defs   map[string]ir.Definition
	values map[string]string
	reads  []string
}

func (f *fakeSource) Definition(key string) (ir.Definition, bool) {
	d, ok := f.defs[key]
	return d, ok
}

func (f *fakeSource) Current(_ context.Context, _, key string, _ *expr.Chain) (expr.Reference, bool) {
	f.reads = append(f.reads, key)
	v, ok := f.values[key]
	return expr.Reference{Value: v}, ok
}

func defs(ds ...ir.Definition) map[string]ir.Definition {
	m := make(map[string]ir.Definition, len(ds))
	for _, d := range ds {
		m[d.Key] = d
	}
	return m
}

func playerInt(key, initial string) ir.Definition {
	return ir.Definition{Key: key, Scope: ir.ScopePlayer, Type: ir.TypeInt, Initial: initial,
		Limits: ir.Limitations{StrictInitialMode: true}}
}

func TestComputeFreezesBase(t *testing.T) {
	mem := memstore.New()
	r := New(expr.New(), mem)

	score := playerInt("score", "${base_score}+10")
	src := &fakeSource{
		defs:   defs(score, playerInt("base_score", "5")),
		values: map[string]string{"base_score": "5"},
	}

	snap := r.Compute(context.Background(), src, score, "alice", expr.Root().Push("score"))
	assert.Equal(t, "15", snap.Base)
	assert.Equal(t, expr.OutcomeResolved, snap.Outcome)
	assert.False(t, snap.HasCircularDependency)
	assert.Equal(t, map[string]string{"base_score": "5"}, snap.Values)
	assert.Equal(t, []string{"base_score"}, snap.Deps)

	e, ok := mem.Get(ir.ScopePlayer, "alice", "score")
	require.True(t, ok)
	assert.True(t, e.StrictComputed)
	assert.Equal(t, "15", e.StrictBase)
	assert.True(t, e.Dirty, "frozen base must be persisted")

	last, ok := r.Last("alice", "score")
	require.True(t, ok)
	assert.Equal(t, "15", last.Base)
}

func TestComputeUsesSnapshotOnly(t *testing.T) {
	mem := memstore.New()
	r := New(expr.New(), mem)

	total := playerInt("total", "${a}*${a}+${b}")
	src := &fakeSource{
		defs:   defs(total, playerInt("a", "3"), playerInt("b", "1")),
		values: map[string]string{"a": "3", "b": "1"},
	}

	snap := r.Compute(context.Background(), src, total, "alice", expr.Root().Push("total"))
	assert.Equal(t, "10", snap.Base)
	// Each direct reference is read exactly once.
	assert.Equal(t, []string{"a", "b"}, src.reads)
}

func TestComputeDetectsCycle(t *testing.T) {
	mem := memstore.New()
	r := New(expr.New(), mem)

	a := playerInt("a", "${b}+1")
	b := playerInt("b", "${a}+1")
	src := &fakeSource{defs: defs(a, b), values: map[string]string{}}

	snap := r.Compute(context.Background(), src, a, "alice", expr.Root().Push("a"))
	assert.True(t, snap.HasCircularDependency)
	assert.Equal(t, expr.OutcomeCircular, snap.Outcome)
	assert.Equal(t, "${b}+1", snap.Base)
	assert.Empty(t, src.reads, "no values are captured for a cyclic expression")

	e, _ := mem.Get(ir.ScopePlayer, "alice", "a")
	assert.Equal(t, "${b}+1", e.StrictBase)
}

func TestComputeDiamondIsNotACycle(t *testing.T) {
	mem := memstore.New()
	r := New(expr.New(), mem)

	top := playerInt("top", "${left}+${right}")
	src := &fakeSource{
		defs: defs(top,
			playerInt("left", "${shared}"),
			playerInt("right", "${shared}"),
			playerInt("shared", "1"),
		),
		values: map[string]string{"left": "1", "right": "1"},
	}

	snap := r.Compute(context.Background(), src, top, "", expr.Root().Push("top"))
	assert.False(t, snap.HasCircularDependency)
	assert.Equal(t, "2", snap.Base)
	assert.Equal(t, []string{"left", "shared", "right"}, snap.Deps)
}

func TestComputeNonPersistable(t *testing.T) {
	mem := memstore.New()
	r := New(expr.New(), mem)

	no := false
	d := playerInt("session", "${x}")
	d.Limits.Persistable = &no
	src := &fakeSource{defs: defs(d, playerInt("x", "4")), values: map[string]string{"x": "4"}}

	r.Compute(context.Background(), src, d, "alice", expr.Root().Push("session"))
	e, ok := mem.Get(ir.ScopePlayer, "alice", "session")
	require.True(t, ok)
	assert.False(t, e.Dirty)
}

func TestForget(t *testing.T) {
	mem := memstore.New()
	r := New(expr.New(), mem)
	d := playerInt("s", "1+1")
	src := &fakeSource{defs: defs(d)}

	r.Compute(context.Background(), src, d, "alice", expr.Root().Push("s"))
	r.Compute(context.Background(), src, d, "bob", expr.Root().Push("s"))

	r.Forget("alice", "s")
	_, ok := r.Last("alice", "s")
	assert.False(t, ok)

	r.ForgetIdentity("bob")
	_, ok = r.Last("bob", "s")
	assert.False(t, ok)

	r.Compute(context.Background(), src, d, "carol", expr.Root().Push("s"))
	r.ForgetKey("s")
	_, ok = r.Last("carol", "s")
	assert.False(t, ok)
}
