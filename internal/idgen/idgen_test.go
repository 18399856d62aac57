package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandom_TokensAreDistinct(t *testing.T) {
	g := New()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		pub, priv, err := TokenPair(g)
		require.NoError(t, err)
		assert.NotEqual(t, pub, priv)
		assert.Len(t, pub, 43)

		for _, tok := range []string{pub, priv} {
			_, dup := seen[tok]
			require.False(t, dup, "token issued twice: %s", tok)
			seen[tok] = struct{}{}
		}
	}
}

type repeating struct {
	values []string
	i      int
}

func (r *repeating) NewID() string { return "id" }

func (r *repeating) NewToken() (string, error) {
	v := r.values[r.i%len(r.values)]
	r.i++
	return v, nil
}

func TestTokenPair_RedrawsOnEqualTokens(t *testing.T) {
	g := &repeating{values: []string{"a", "a", "b", "c"}}
	pub, priv, err := TokenPair(g)
	require.NoError(t, err)
	assert.Equal(t, "b", pub)
	assert.Equal(t, "c", priv)
}

func TestRandom_NewID(t *testing.T) {
	g := New()
	assert.NotEqual(t, g.NewID(), g.NewID())
	assert.Len(t, g.NewID(), 36)
}
