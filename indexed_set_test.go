package guardkit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexedSetBasics(t *testing.T) {
	s := NewIndexedSet[string]()
	assert.True(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.True(t, s.Add("c"))
	assert.False(t, s.Add("b"))
	assert.Equal(t, []string{"a", "b", "c"}, s.Values())

	pos, ok := s.IndexOf("c")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok = s.IndexOf("z")
	assert.False(t, ok)

	// Removing a middle element moves the last one into its slot.
	assert.True(t, s.Remove("a"))
	assert.Equal(t, []string{"c", "b"}, s.Values())
	pos, _ = s.IndexOf("c")
	assert.Equal(t, 0, pos)
	assert.False(t, s.Contains("a"))
	assert.False(t, s.Remove("a"))
	require.NoError(t, s.verify())

	v, ok := s.At(1)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = s.At(2)
	assert.False(t, ok)
	_, ok = s.At(-1)
	assert.False(t, ok)
}

func TestIndexedSetPage(t *testing.T) {
	s := NewIndexedSet[int]()
	for i := 0; i < 7; i++ {
		s.Add(i)
	}
	assert.Equal(t, []int{0, 1, 2}, s.Page(0, 3))
	assert.Equal(t, []int{5, 6}, s.Page(5, 3))
	assert.Equal(t, []int{}, s.Page(7, 3))
	assert.Equal(t, []int{}, s.Page(100, 3))

	// Pages are copies.
	p := s.Page(0, 2)
	p[0] = 99
	assert.Equal(t, 0, s.Page(0, 1)[0])
}

// TestIndexedSetRandomOperations checks the slot invariant after every step of
// random interleaved adds and removes, against a map model.
func TestIndexedSetRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(20260101))
	s := NewIndexedSet[int]()
	model := map[int]bool{}

	for step := 0; step < 5000; step++ {
		v := rng.Intn(40)
		if rng.Intn(3) == 0 {
			assert.Equal(t, model[v], s.Remove(v), "step %d remove %d", step, v)
			delete(model, v)
		} else {
			assert.Equal(t, !model[v], s.Add(v), "step %d add %d", step, v)
			model[v] = true
		}
		require.NoError(t, s.verify(), "step %d", step)
		require.Equal(t, len(model), s.Len())
	}
	for v := range model {
		assert.True(t, s.Contains(v))
	}
}
