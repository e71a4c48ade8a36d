package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[string]()
	for _, v := range []string{"A", "B", "C"} {
		require.NoError(t, q.Put(v))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, err := q.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, ok := q.TryGet()
	assert.False(t, ok)
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := New[int]()

	done := make(chan int, 1)
	go func() {
		v, err := q.Get(context.Background())
		if err == nil {
			done <- v
		}
	}()

	select {
	case <-done:
		t.Fatal("Get returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Put(7))
	select {
	case v := <-done:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up")
	}
}

func TestQueue_GetHonoursContext(t *testing.T) {
	q := New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseReturnsLeftoversAndWakesWaiters(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Get(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, q.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}

	assert.ErrorIs(t, q.Put(1), ErrClosed)
	assert.Nil(t, q.Close())
}

func TestQueue_CloseWithItems(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Put(1))
	require.NoError(t, q.Put(2))

	assert.Equal(t, []int{1, 2}, q.Close())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ManyConsumersDrainEverything(t *testing.T) {
	const consumers, items = 5, 500

	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got = make(map[int]struct{}, items)
		wg  sync.WaitGroup
	)
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Get(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				got[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}

	for i := range items {
		require.NoError(t, q.Put(i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == items
	}, 2*time.Second, 5*time.Millisecond)

	q.Close()
	wg.Wait()
}
