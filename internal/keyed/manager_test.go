package keyed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := New[*int]()
	calls := 0
	create := func() *int {
		calls++
		v := 42
		return &v
	}

	first := m.GetOrCreate("k", create)
	second := m.GetOrCreate("k", create)

	require.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestGetOrCreateConcurrentCallersShareOneValue(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	results := make([]int, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = m.GetOrCreate("shared", func() int { return 7 })
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 7, r)
	}
	assert.Equal(t, 1, m.Len())
}

func TestDeleteAndKeys(t *testing.T) {
	m := New[string]()
	m.Set("a", "1")
	m.Set("b", "2")
	assert.ElementsMatch(t, []string{"a", "b"}, m.Keys())

	m.Delete("a")
	_, ok := m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestRangeStopsWhenFnReturnsFalse(t *testing.T) {
	m := New[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	seen := 0
	m.Range(func(key string, item int) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)
}
