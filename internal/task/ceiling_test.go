package task

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeiling_EnforcesMax(t *testing.T) {
	c := NewCeiling(2)

	assert.True(t, c.TryAcquire())
	assert.True(t, c.TryAcquire())
	assert.False(t, c.TryAcquire(), "third slot must be refused")
	assert.Equal(t, 2, c.Count())

	c.Release()
	assert.True(t, c.TryAcquire())
	assert.Equal(t, 2, c.Count())
	assert.Equal(t, 2, c.Max())
}

func TestCeiling_NeverOvershootsUnderContention(t *testing.T) {
	const max = 8
	c := NewCeiling(max)

	var wg sync.WaitGroup
	var granted sync.Map
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.TryAcquire() {
				granted.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	n := 0
	granted.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, max, n)
	assert.Equal(t, max, c.Count())
}
