package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := newError(CodeNotFound, "get", "gold", "", "no variable is defined with this key")
	assert.Equal(t, "DEFINITION_NOT_FOUND: no variable is defined with this key (key=gold)", err.Error())

	err = newError(CodeReadOnly, "set", "score", "alice", "variable is read-only")
	assert.Equal(t, "READ_ONLY_VARIABLE: variable is read-only (key=score, identity=alice)", err.Error())

	cause := errors.New("disk full")
	wrapped := wrapError(CodePersistenceFailure, "save", "", "", cause, "flush failed")
	assert.Equal(t, "PERSISTENCE_FAILURE: flush failed: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestError_IsCodeThroughWrapping(t *testing.T) {
	base := newError(CodeConstraintViolation, "set", "gold", "", "bad")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.True(t, IsConstraintViolation(wrapped))
	assert.Equal(t, CodeConstraintViolation, CodeOf(wrapped))
	assert.False(t, IsNotFound(wrapped))

	assert.False(t, IsCode(nil, CodeTimeout))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestExplain(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, testDefs())

	_, err := e.Add(ctx, "alice", "total", "3")
	require.NoError(t, err)

	x, err := e.Explain(ctx, "alice", "total")
	require.NoError(t, err)
	assert.True(t, x.Formula)
	assert.False(t, x.Strict)
	assert.True(t, x.ConditionsMet)
	assert.Equal(t, "10", x.Base)
	assert.Equal(t, "3", x.Increment)
	assert.Equal(t, "13", x.Value)
	assert.Equal(t, []string{"base_score"}, x.Deps)
	assert.True(t, x.Dirty)
	assert.NoError(t, x.Problem())

	x, err = e.Explain(ctx, "alice", "vip_bonus")
	require.NoError(t, err)
	assert.False(t, x.ConditionsMet, "explain reports conditions instead of failing")

	x, err = e.Explain(ctx, "alice", "score")
	require.NoError(t, err)
	require.NotNil(t, x.Snapshot)
	assert.Equal(t, map[string]string{"base_score": "5"}, x.Snapshot.Values)

	_, err = e.Explain(ctx, "alice", "missing")
	assert.True(t, IsNotFound(err))
}
