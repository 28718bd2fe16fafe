package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeededSourcesRepeat(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
		assert.Equal(t, a.NormFloat64(), b.NormFloat64())
	}
}

func TestHelpersStayInRange(t *testing.T) {
	src := New(7)
	for i := 0; i < 1000; i++ {
		u := Uniform(src, 0.7, 1.0)
		assert.GreaterOrEqual(t, u, 0.7)
		assert.Less(t, u, 1.0)

		n := IntRange(src, 0, 3)
		assert.GreaterOrEqual(t, n, 0)
		assert.LessOrEqual(t, n, 3)
	}
	assert.Equal(t, 5, IntRange(src, 5, 5))
}
