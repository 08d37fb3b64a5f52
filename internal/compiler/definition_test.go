package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varkeep/internal/ir"
)

func TestCompileCUE_Basic(t *testing.T) {
	src := `
variable: gold: {
	scope:   "global"
	type:    "INT"
	initial: 0
	limits: max: 1000
}

variable: score: {
	scope:        "player"
	type:         "INT"
	display_name: "Score"
	initial:      "${base_score}+10"
	limits: strict_initial: true
}

variable: base_score: {
	scope:   "player"
	type:    "INT"
	initial: "5"
}
`
	defs, err := CompileCUE([]byte(src), "vars.cue")
	require.NoError(t, err)
	require.Len(t, defs, 3)

	// Sorted by key
	assert.Equal(t, "base_score", defs[0].Key)
	assert.Equal(t, "gold", defs[1].Key)
	assert.Equal(t, "score", defs[2].Key)

	gold := defs[1]
	assert.Equal(t, ir.ScopeGlobal, gold.Scope)
	assert.Equal(t, ir.TypeInt, gold.Type)
	assert.Equal(t, "0", gold.Initial)
	require.NotNil(t, gold.Limits.Max)
	assert.Equal(t, 1000.0, *gold.Limits.Max)
	assert.Nil(t, gold.Limits.Min)

	score := defs[2]
	assert.Equal(t, ir.ScopePlayer, score.Scope)
	assert.Equal(t, "Score", score.DisplayName)
	assert.True(t, score.Limits.StrictInitialMode)
	assert.True(t, score.IsFormula())
}

func TestCompileCUE_ConditionsAndLimits(t *testing.T) {
	src := `
variable: vip_bonus: {
	scope: "player"
	type:  "DOUBLE"
	conditions: ["%player_rank% == vip", "true"]
	limits: {
		min:            0
		max:            2.5
		read_only:      true
		persistable:    false
		max_depth:      4
		max_length:     200
		allow_circular: true
	}
}
`
	defs, err := CompileCUE([]byte(src), "vars.cue")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	d := defs[0]
	assert.Equal(t, []string{"%player_rank% == vip", "true"}, d.Conditions)
	assert.Equal(t, 0.0, *d.Limits.Min)
	assert.Equal(t, 2.5, *d.Limits.Max)
	assert.True(t, d.Limits.ReadOnly)
	assert.False(t, d.Limits.IsPersistable())
	assert.Equal(t, 4, d.Limits.MaxRecursionDepth)
	assert.Equal(t, 200, d.Limits.MaxExpressionLength)
	assert.True(t, d.Limits.AllowCircularReferences)
}

func TestCompileCUE_MissingType(t *testing.T) {
	src := `variable: x: { scope: "global" }`
	_, err := CompileCUE([]byte(src), "vars.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type is required")
}

func TestCompileCUE_SyntaxError(t *testing.T) {
	_, err := CompileCUE([]byte(`variable: {`), "broken.cue")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "broken.cue", ce.Pos.Filename())
}

func TestCompileCUE_NoVariables(t *testing.T) {
	defs, err := CompileCUE([]byte(`other: 1`), "vars.cue")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestDecodeYAML(t *testing.T) {
	src := `
variables:
  gold:
    scope: GLOBAL
    type: int
    initial: 0
    limits:
      max: 1000
  greeting:
    scope: PER-IDENTITY
    type: STRING
    initial: "Hello %player_name%"
    conditions:
      - "true"
`
	defs, err := DecodeYAML([]byte(src), "vars.yaml")
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "gold", defs[0].Key)
	assert.Equal(t, ir.ScopeGlobal, defs[0].Scope)
	assert.Equal(t, ir.TypeInt, defs[0].Type)
	assert.Equal(t, "0", defs[0].Initial)
	assert.Equal(t, 1000.0, *defs[0].Limits.Max)

	assert.Equal(t, "greeting", defs[1].Key)
	assert.Equal(t, ir.ScopePlayer, defs[1].Scope)
	assert.Equal(t, []string{"true"}, defs[1].Conditions)
}

func TestDecodeYAML_UnknownField(t *testing.T) {
	src := `
variables:
  gold:
    scope: global
    type: INT
    colour: red
`
	_, err := DecodeYAML([]byte(src), "vars.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestDecodeYAML_BadScope(t *testing.T) {
	src := `
variables:
  gold:
    scope: server
    type: INT
`
	_, err := DecodeYAML([]byte(src), "vars.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variables.gold.scope")
}

func TestDecodeYAML_Empty(t *testing.T) {
	defs, err := DecodeYAML(nil, "empty.yaml")
	require.NoError(t, err)
	assert.Empty(t, defs)
}
