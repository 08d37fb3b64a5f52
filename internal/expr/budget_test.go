package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassBudget_WithinLimit(t *testing.T) {
	b := newPassBudget(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, b.Check("score"), "pass %d should be allowed", i+1)
	}
	assert.Equal(t, 10, b.Current())
}

func TestPassBudget_ExceedsLimit(t *testing.T) {
	b := newPassBudget(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Check("score"))
	}

	err := b.Check("score")
	require.Error(t, err)

	var depthErr *DepthExceededError
	require.ErrorAs(t, err, &depthErr)
	assert.Equal(t, "score", depthErr.Key)
	assert.Equal(t, 5, depthErr.Passes)
	assert.Equal(t, 5, depthErr.Limit)
}

func TestDepthExceededError_Error(t *testing.T) {
	err := &DepthExceededError{Key: "score", Passes: 20, Limit: 20}
	assert.Equal(t, `resolution of "score" exceeded max depth (20 >= 20)`, err.Error())
}
