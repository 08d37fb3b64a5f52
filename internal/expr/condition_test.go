package expr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varkeep/internal/ir"
)

func TestEvalBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"5 >= 5", true},
		{"5 > 5", false},
		{"10 == 10.0", true},
		{"2+3 == 5", true},
		{"3 < 10", true},
		{"abc == abc", true},
		{"abc != abd", true},
		{"1 > 2 || 3 > 2", true},
		{"1 < 2 && 3 < 2", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := evalBool(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalBoolRejectsNonBoolean(t *testing.T) {
	_, err := evalBool("hello")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	ev := New()
	lookup := LookupFunc(func(ctx context.Context, identity, key string, chain *Chain) (Reference, bool) {
		if key == "level" {
			return Reference{Value: "12"}, true
		}
		return Reference{}, false
	})
	req := Request{Key: "vip_bonus", Identity: "A", Chain: Root().Push("vip_bonus"), Lookup: lookup}

	ok, err := ev.Check(context.Background(), req, []string{"${level} >= 10", "true"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Check(context.Background(), req, []string{"${level} >= 10", "${level} < 5"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckFailsClosed(t *testing.T) {
	ev := New()
	req := Request{Key: "k", Limits: ir.Limitations{}}

	ok, err := ev.Check(context.Background(), req, []string{"${unknown} >= 1"})
	assert.False(t, ok)
	assert.Error(t, err)
}
