package deposit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetAddAndContains(t *testing.T) {
	s := NewSeenSet(10)

	assert.False(t, s.Contains("tx-1"))
	assert.True(t, s.Add("tx-1"))
	assert.True(t, s.Contains("tx-1"))

	// Re-adding an existing hash reports it was already present
	assert.False(t, s.Add("tx-1"))
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEvictsOldestFirst(t *testing.T) {
	s := NewSeenSet(3)

	s.Add("tx-1")
	s.Add("tx-2")
	s.Add("tx-3")
	s.Add("tx-4")

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("tx-1"))
	assert.True(t, s.Contains("tx-2"))
	assert.True(t, s.Contains("tx-4"))
}

func TestSeenSetConcurrentAccess(t *testing.T) {
	s := NewSeenSet(1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hash := fmt.Sprintf("tx-%d-%d", worker, j)
				s.Add(hash)
				s.Contains(hash)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 800, s.Len())
}
