package rand

import (
	"strings"
	"sync"
	"testing"

	"github.com/sblgo/sbl/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID(t *testing.T) {
	id := NewRequestID(constants.RequestIDLength)
	require.Len(t, id, constants.RequestIDLength)
	for _, c := range id {
		assert.True(t, strings.ContainsRune(charset, c), "unexpected rune %q", c)
	}

	assert.Empty(t, NewRequestID(0))
	assert.Len(t, NewRequestID(61), 61)
}

func TestNewRequestIDConcurrentUnique(t *testing.T) {
	const goroutines, perGoroutine = 8, 2000

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, goroutines*perGoroutine)
		wg   sync.WaitGroup
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perGoroutine)
			for range perGoroutine {
				ids = append(ids, NewRequestID(constants.RequestIDLength))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func BenchmarkNewRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewRequestID(constants.RequestIDLength)
	}
}
