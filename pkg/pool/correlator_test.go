package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
)

func TestCorrelator_ResolveDeliversPayload(t *testing.T) {
	c := NewCorrelator()

	pending, err := c.Register("a")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Resolve("a", []byte(`{"id":"a"}`)))
	assert.Equal(t, 0, c.Len())

	payload, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, string(payload))
}

func TestCorrelator_DuplicateRegister(t *testing.T) {
	c := NewCorrelator()

	_, err := c.Register("a")
	require.NoError(t, err)

	_, err = c.Register("a")
	assert.ErrorIs(t, err, constants.ErrIDInUse)
	assert.Equal(t, 1, c.Len())
}

func TestCorrelator_UnknownID(t *testing.T) {
	c := NewCorrelator()

	for _, err := range []error{
		c.Resolve("ghost", nil),
		c.Fail("ghost", errors.New("boom")),
	} {
		var protoErr *connection.ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.ErrorIs(t, err, constants.ErrUnknownID)
	}

	// a second resolve of the same id is an unknown id too
	_, err := c.Register("once")
	require.NoError(t, err)
	require.NoError(t, c.Resolve("once", nil))
	assert.ErrorIs(t, c.Resolve("once", nil), constants.ErrUnknownID)
}

func TestCorrelator_Fail(t *testing.T) {
	c := NewCorrelator()
	boom := errors.New("boom")

	pending, err := c.Register("a")
	require.NoError(t, err)
	require.NoError(t, c.Fail("a", boom))

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCorrelator_Discard(t *testing.T) {
	c := NewCorrelator()

	pending, err := c.Register("a")
	require.NoError(t, err)
	c.Discard("a")
	assert.Equal(t, 0, c.Len())

	select {
	case <-pending.Done():
		t.Fatal("discarded result must stay unsettled")
	default:
	}
}

func TestPendingResult_SettlesOnce(t *testing.T) {
	p := newPendingResult()
	require.NoError(t, p.settle([]byte("first"), nil))
	assert.ErrorIs(t, p.settle([]byte("second"), nil), constants.ErrAlreadyResolved)

	payload, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", string(payload))
}

func TestPendingResult_WaitDetachesOnContext(t *testing.T) {
	c := NewCorrelator()
	pending, err := c.Register("slow")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the late reply still lands without error and without a leak
	require.NoError(t, c.Resolve("slow", []byte("late")))
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_Concurrent(t *testing.T) {
	const n = 200
	c := NewCorrelator()

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			pending, err := c.Register(id)
			if !assert.NoError(t, err) {
				return
			}
			go func() { assert.NoError(t, c.Resolve(id, []byte(id))) }()
			payload, err := pending.Wait(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, id, string(payload))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, c.Len())
}
