package expr

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varkeep/internal/ir"
)

// mapLookup resolves references from a table of raw expressions, recursing
// through the evaluator the way the engine does.
type mapLookup struct {
	ev    *Evaluator
	exprs map[string]string
	calls atomic.Int64
}

func (m *mapLookup) Lookup(ctx context.Context, identity, key string, chain *Chain) (Reference, bool) {
	m.calls.Add(1)
	raw, ok := m.exprs[key]
	if !ok {
		return Reference{}, false
	}
	res := m.ev.Resolve(ctx, Request{
		Key:      key,
		Raw:      raw,
		Identity: identity,
		Type:     ir.TypeInt,
		Chain:    chain,
		Lookup:   m,
	})
	return Reference{Value: res.Value, Deps: res.Deps}, true
}

func resolveInt(t *testing.T, ev *Evaluator, lookup Lookup, key, raw string, limits ir.Limitations) Resolution {
	t.Helper()
	return ev.Resolve(context.Background(), Request{
		Key:    key,
		Raw:    raw,
		Type:   ir.TypeInt,
		Limits: limits,
		Chain:  Root().Push(key),
		Lookup: lookup,
	})
}

// =============================================================================
// References and arithmetic
// =============================================================================

func TestResolve_ReferencePlusArithmetic(t *testing.T) {
	ev := New()
	lookup := &mapLookup{ev: ev, exprs: map[string]string{"base_score": "5"}}

	res := resolveInt(t, ev, lookup, "score", "${base_score}+10", ir.Limitations{})

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, "15", res.Value)
	assert.Equal(t, []string{"base_score"}, res.Deps)
}

func TestResolve_TransitiveDeps(t *testing.T) {
	ev := New()
	lookup := &mapLookup{ev: ev, exprs: map[string]string{
		"a": "${b}*2",
		"b": "${c}+1",
		"c": "4",
	}}

	res := resolveInt(t, ev, lookup, "top", "${a}", ir.Limitations{})

	assert.Equal(t, "10", res.Value)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, res.Deps)
}

func TestResolve_UnknownReferenceLeftInPlace(t *testing.T) {
	ev := New()
	lookup := &mapLookup{ev: ev, exprs: map[string]string{}}

	res := resolveInt(t, ev, lookup, "x", "${missing}+1", ir.Limitations{})

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, "${missing}+1", res.Value)
}

func TestResolve_IntNormalization(t *testing.T) {
	ev := New()
	res := resolveInt(t, ev, nil, "x", "7/2", ir.Limitations{})
	assert.Equal(t, "3", res.Value)

	res = ev.Resolve(context.Background(), Request{Raw: "7/2", Type: ir.TypeDouble})
	assert.Equal(t, "3.5", res.Value)

	res = ev.Resolve(context.Background(), Request{Raw: "4/2", Type: ir.TypeDouble})
	assert.Equal(t, "2.0", res.Value)
}

func TestResolve_StringTypeSkipsArithmetic(t *testing.T) {
	ev := New()
	res := ev.Resolve(context.Background(), Request{Raw: "1-2", Type: ir.TypeString})
	assert.Equal(t, "1-2", res.Value)
}

// =============================================================================
// Safety limits
// =============================================================================

func TestResolve_SelfReferenceTerminates(t *testing.T) {
	ev := New()
	lookup := &mapLookup{ev: ev, exprs: map[string]string{"loop": "${loop}+1"}}

	res := resolveInt(t, ev, lookup, "loop", "${loop}+1", ir.Limitations{})

	assert.Equal(t, OutcomeCircular, res.Outcome)
	assert.Equal(t, "${loop}+1", res.Value)
	assert.Zero(t, lookup.calls.Load(), "self reference must not be followed")
}

func TestResolve_MutualReferenceTerminates(t *testing.T) {
	ev := New()
	lookup := &mapLookup{ev: ev, exprs: map[string]string{
		"a": "${b}+1",
		"b": "${a}+1",
	}}

	res := resolveInt(t, ev, lookup, "a", "${b}+1", ir.Limitations{})

	assert.Equal(t, OutcomeCircular, res.Outcome)
	assert.Equal(t, "${b}+1", res.Value, "cycle yields the raw expression")

	res = resolveInt(t, ev, lookup, "b", "${a}+1", ir.Limitations{})
	assert.Equal(t, OutcomeCircular, res.Outcome)
	assert.Equal(t, "${a}+1", res.Value)
}

func TestResolve_AllowedCircularBoundedByDepth(t *testing.T) {
	ev := New()
	exprs := map[string]string{"loop": "${loop}+1"}
	lookup := &mapLookup{ev: ev, exprs: exprs}

	limits := ir.Limitations{AllowCircularReferences: true, MaxRecursionDepth: 3}
	res := resolveInt(t, ev, lookup, "loop", exprs["loop"], limits)

	// Terminates; the innermost reference stays unresolved.
	assert.Contains(t, res.Value, "${loop}")
	assert.LessOrEqual(t, lookup.calls.Load(), int64(10))
}

func TestResolve_TooLongReturnsOriginal(t *testing.T) {
	ev := New(WithPlaceholders(MapProvider{
		Shared: map[string]string{"motd": strings.Repeat("x", 50)},
	}))

	res := ev.Resolve(context.Background(), Request{
		Raw:      "%motd%",
		Identity: "A",
		Type:     ir.TypeString,
		Limits:   ir.Limitations{MaxExpressionLength: 20},
	})

	assert.Equal(t, OutcomeTooLong, res.Outcome)
	assert.Equal(t, "%motd%", res.Value)
}

func TestResolve_TooLongInput(t *testing.T) {
	ev := New()
	raw := strings.Repeat("1+", 600) + "1"
	res := resolveInt(t, ev, nil, "x", raw, ir.Limitations{})

	assert.Equal(t, OutcomeTooLong, res.Outcome)
	assert.Equal(t, raw, res.Value)
}

func TestResolve_RecursionLimitReturnsPartial(t *testing.T) {
	// Each pass of this provider appends one more token, so the string
	// never reaches a fixed point and never repeats.
	var n atomic.Int64
	growing := PlaceholderFunc(func(identity, text string) string {
		n.Add(1)
		return text + "%p%"
	})
	ev := New(WithPlaceholders(growing))

	res := ev.Resolve(context.Background(), Request{
		Key:      "grow",
		Raw:      "%p%",
		Identity: "A",
		Type:     ir.TypeString,
		Limits:   ir.Limitations{MaxRecursionDepth: 4},
	})

	assert.Equal(t, OutcomeRecursionLimit, res.Outcome)
	assert.Equal(t, 4, res.Passes)
	assert.Equal(t, strings.Repeat("%p%", 5), res.Value)
}

func TestResolve_RepeatingPassAborts(t *testing.T) {
	// A provider that flips between two strings forever.
	flip := PlaceholderFunc(func(identity, text string) string {
		if text == "%a%" {
			return "%b%"
		}
		return "%a%"
	})
	ev := New(WithPlaceholders(flip))

	res := ev.Resolve(context.Background(), Request{
		Raw:      "%a%",
		Identity: "A",
		Type:     ir.TypeString,
	})

	assert.Equal(t, OutcomeCircular, res.Outcome)
	assert.Equal(t, "%a%", res.Value, "aborted resolution returns the raw expression")
}

// =============================================================================
// Placeholders
// =============================================================================

func TestResolve_Placeholders(t *testing.T) {
	ev := New(WithPlaceholders(MapProvider{
		Shared:      map[string]string{"server_tps": "20"},
		PerIdentity: map[string]map[string]string{"A": {"player_level": "7"}},
	}))

	res := ev.Resolve(context.Background(), Request{
		Raw:      "%player_level%*%server_tps%",
		Identity: "A",
		Type:     ir.TypeInt,
	})
	assert.Equal(t, "140", res.Value)

	// No identity: provider is a no-op.
	res = ev.Resolve(context.Background(), Request{
		Raw:  "%player_level%",
		Type: ir.TypeString,
	})
	assert.Equal(t, "%player_level%", res.Value)
}

func TestChain(t *testing.T) {
	c := Root()
	assert.Equal(t, 0, c.Depth())
	assert.False(t, c.Contains("a"))

	c2 := c.Push("a").Push("b")
	assert.Equal(t, 2, c2.Depth())
	assert.True(t, c2.Contains("a"))
	assert.Equal(t, []string{"a", "b"}, c2.Keys())
	assert.False(t, c.Contains("a"), "push must not mutate parent")
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "resolved", OutcomeResolved.String())
	require.Equal(t, "circular_dependency", OutcomeCircular.String())
}
