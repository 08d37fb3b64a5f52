package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1+2", 3},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"2^3^2", 512},
		{"-2^2", -4},
		{"(-2)^2", 4},
		{"5 - -3", 8},
		{" 1.5 * 2 ", 3},
		{"8-2-1", 5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Evaluate(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, in := range []string{"", "1+", "(1", "1)", "1/0", "2..3", "*3"} {
		_, err := Evaluate(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestEvaluateNestingBound(t *testing.T) {
	in := ""
	for i := 0; i < maxNesting+1; i++ {
		in += "("
	}
	in += "1"
	for i := 0; i < maxNesting+1; i++ {
		in += ")"
	}
	_, err := Evaluate(in)
	assert.Error(t, err)
}

func TestIsArithmetic(t *testing.T) {
	assert.True(t, IsArithmetic("5+10"))
	assert.True(t, IsArithmetic("(1.5)"))
	assert.False(t, IsArithmetic("${a}+1"))
	assert.False(t, IsArithmetic("+-"))
	assert.False(t, IsArithmetic("abc"))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "15", FormatNumber(15))
	assert.Equal(t, "-3", FormatNumber(-3))
	assert.Equal(t, "2.5", FormatNumber(2.5))
}
