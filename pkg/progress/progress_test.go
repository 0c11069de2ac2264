package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		chunks []int
		exp    []int
	}{
		{
			name:   "OneOfFour",
			total:  4,
			chunks: []int{1},
			exp:    []int{25},
		},
		{
			name:   "RoundsUpPerChunk",
			total:  3,
			chunks: []int{1, 1, 1},
			exp:    []int{34, 68, 100},
		},
		{
			name:   "BatchedChunk",
			total:  3,
			chunks: []int{2, 1},
			exp:    []int{67, 100},
		},
		{
			name:   "Clamped",
			total:  2,
			chunks: []int{2, 5},
			exp:    []int{100, 100},
		},
		{
			name:   "ChunkWithoutSuccess",
			total:  4,
			chunks: []int{1, 0, 1},
			exp:    []int{25, 25, 50},
		},
		{
			name:   "Empty",
			total:  0,
			chunks: []int{0, 3},
			exp:    []int{100, 100},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			calc := New(test.total)
			var got []int
			for _, successes := range test.chunks {
				got = append(got, calc.Observe(successes))
			}
			assert.Equal(t, test.exp, got)
			assert.Equal(t, test.total, calc.Total())
		})
	}
}

func TestMonotonic(t *testing.T) {
	calc := New(7)
	prev := calc.Percent()
	assert.Equal(t, 0, prev)

	for i := 0; i < 20; i++ {
		curr := calc.Observe(i % 3)
		assert.True(t, curr >= prev, "percent decreased from %d to %d", prev, curr)
		assert.True(t, curr <= 100)
		prev = curr
	}
	assert.Equal(t, 100, calc.Percent())
}

func TestEmptyJobIsComplete(t *testing.T) {
	assert.Equal(t, 100, New(0).Percent())
}
