package guard

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_Strong(t *testing.T) {
	src := NewTokenSource(false)

	a, weak, err := src.Generate()
	require.NoError(t, err)
	assert.False(t, weak)
	assert.Len(t, a, 2*tokenBytes)

	_, err = hex.DecodeString(a)
	require.NoError(t, err)

	b, _, err := src.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.NoError(t, src.Probe())
}

func TestTokenSource_StrongFailure(t *testing.T) {
	src := NewTokenSource(false)
	src.strong = brokenReader{}

	_, _, err := src.Generate()
	assert.ErrorIs(t, err, ErrNoStrongRandom)
	assert.ErrorIs(t, src.Probe(), ErrNoStrongRandom)
	assert.False(t, src.AllowsWeak())
}

func TestTokenSource_WeakFallback(t *testing.T) {
	src := NewTokenSource(true)
	src.strong = brokenReader{}

	token, weak, err := src.Generate()
	require.NoError(t, err)
	assert.True(t, weak)
	assert.Len(t, token, 2*tokenBytes)
	assert.True(t, src.AllowsWeak())
}
