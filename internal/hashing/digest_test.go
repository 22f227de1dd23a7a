package hashing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestIsDeterministic(t *testing.T) {
	d := NewTokenDigester(DefaultSeed)
	token := "9f2c1d0e7a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5"

	first := d.Digest(token)
	second := d.Digest(token)

	require.Len(t, first, 32)
	assert.Equal(t, first, second)
	assert.NotContains(t, first, token[:16])
}

func TestDigestDiffersPerTokenAndSeed(t *testing.T) {
	d := NewTokenDigester(DefaultSeed)
	other := NewTokenDigester(DefaultSeed + 1)

	assert.NotEqual(t, d.Digest("token-a"), d.Digest("token-b"))
	assert.NotEqual(t, d.Digest("token-a"), other.Digest("token-a"))
	assert.Equal(t, DefaultSeed+1, other.Seed())
}

func TestDigestConcurrentUse(t *testing.T) {
	d := NewTokenDigester(DefaultSeed)
	want := d.Digest("shared-token")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, d.Digest("shared-token"))
		}()
	}
	wg.Wait()
}
