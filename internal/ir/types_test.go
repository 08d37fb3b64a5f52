package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{
		"global":       ScopeGlobal,
		"GLOBAL":       ScopeGlobal,
		"player":       ScopePlayer,
		"PER-IDENTITY": ScopePlayer,
	} {
		got, err := ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseScope("server")
	assert.Error(t, err)
}

func TestParseValueType(t *testing.T) {
	got, err := ParseValueType("int")
	require.NoError(t, err)
	assert.Equal(t, TypeInt, got)

	_, err = ParseValueType("map")
	assert.Error(t, err)
}

func TestLimitationsDefaults(t *testing.T) {
	var l Limitations
	assert.True(t, l.IsPersistable())
	assert.Equal(t, DefaultMaxRecursionDepth, l.Depth())
	assert.Equal(t, DefaultMaxExpressionLength, l.Length())

	off := false
	l = Limitations{Persistable: &off, MaxRecursionDepth: 3, MaxExpressionLength: 50}
	assert.False(t, l.IsPersistable())
	assert.Equal(t, 3, l.Depth())
	assert.Equal(t, 50, l.Length())
}

func TestDefinitionIsFormula(t *testing.T) {
	tests := []struct {
		def  Definition
		want bool
	}{
		{Definition{Type: TypeInt, Initial: "0"}, false},
		{Definition{Type: TypeInt, Initial: ""}, false},
		{Definition{Type: TypeInt, Initial: "-3.5"}, false},
		{Definition{Type: TypeInt, Initial: "2*5"}, true},
		{Definition{Type: TypeInt, Initial: "${base_score}+10"}, true},
		{Definition{Type: TypeString, Initial: "Hello"}, false},
		{Definition{Type: TypeString, Initial: "Hi %player_name%"}, true},
		{Definition{Type: TypeList, Initial: "a,b"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.def.IsFormula(), "initial %q", tt.def.Initial)
	}
}

func TestReferences(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, References("${a} + ${b} * ${a}"))
	assert.Empty(t, References("plain"))
	assert.True(t, HasReferences("x${k}"))
	assert.False(t, HasReferences("${}"))
}

func TestReplaceReferences(t *testing.T) {
	got := ReplaceReferences("${a}+${b}", func(key string) (string, bool) {
		if key == "a" {
			return "1", true
		}
		return "", false
	})
	assert.Equal(t, "1+${b}", got)
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, HasPlaceholders("%player_level%"))
	assert.False(t, HasPlaceholders("50% off"))
	assert.False(t, HasPlaceholders("100 % 3 %"))
}
