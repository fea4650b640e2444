package backfill

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRequester struct {
	calls atomic.Int32
	err   error
}

func (r *countingRequester) RequestBacklog(context.Context) error {
	r.calls.Add(1)
	return r.err
}

type fixedLen int

func (n *fixedLen) Len() int { return int(*n) }

func TestCoordinator_FirstReadyRequests(t *testing.T) {
	req := &countingRequester{}
	n := fixedLen(0)
	c := New(req, &n)

	require.NoError(t, c.OnReady(context.Background(), 1))
	assert.Equal(t, int32(1), req.calls.Load())
	assert.Equal(t, 1, c.Requests())
}

func TestCoordinator_ReconnectWithMessagesSkips(t *testing.T) {
	req := &countingRequester{}
	n := fixedLen(0)
	c := New(req, &n)

	require.NoError(t, c.OnReady(context.Background(), 1))
	c.MarkDelivered()
	n = 5

	require.NoError(t, c.OnReady(context.Background(), 2))
	assert.Equal(t, int32(1), req.calls.Load())
}

func TestCoordinator_ReconnectWithEmptyStoreRequestsAgain(t *testing.T) {
	req := &countingRequester{}
	n := fixedLen(0)
	c := New(req, &n)

	require.NoError(t, c.OnReady(context.Background(), 1))
	c.MarkDelivered()

	require.NoError(t, c.OnReady(context.Background(), 2))
	assert.Equal(t, int32(2), req.calls.Load())
}

func TestCoordinator_UndeliveredBacklogIsRequestedAgain(t *testing.T) {
	req := &countingRequester{}
	n := fixedLen(0)
	c := New(req, &n)

	require.NoError(t, c.OnReady(context.Background(), 1))
	n = 2 // live messages arrived, the batch did not

	require.NoError(t, c.OnReady(context.Background(), 2))
	assert.Equal(t, int32(2), req.calls.Load())
	assert.False(t, c.Delivered())
}

func TestCoordinator_OneRequestPerGeneration(t *testing.T) {
	req := &countingRequester{}
	n := fixedLen(0)
	c := New(req, &n)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.OnReady(context.Background(), 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), req.calls.Load())
	require.NoError(t, c.OnReady(context.Background(), 1))
	assert.Equal(t, int32(1), req.calls.Load(), "stale generation is ignored")
}

func TestCoordinator_RequestErrorIsReturned(t *testing.T) {
	req := &countingRequester{err: assert.AnError}
	n := fixedLen(0)
	c := New(req, &n)
	assert.ErrorIs(t, c.OnReady(context.Background(), 1), assert.AnError)
}

func TestCoordinator_EmptinessIsSampledBeforeLiveTraffic(t *testing.T) {
	req := &countingRequester{}
	n := fixedLen(0)
	c := New(req, &n)

	require.NoError(t, c.Prepare(context.Background(), 1))
	require.NoError(t, c.OnReady(context.Background(), 1))
	c.MarkDelivered()

	// Reconnect with an empty store; a live message lands between the live
	// subscribe and the backlog decision.
	require.NoError(t, c.Prepare(context.Background(), 2))
	n = 1
	require.NoError(t, c.OnReady(context.Background(), 2))
	assert.Equal(t, int32(2), req.calls.Load())

	// Reconnect with history kept.
	require.NoError(t, c.Prepare(context.Background(), 3))
	require.NoError(t, c.OnReady(context.Background(), 3))
	assert.Equal(t, int32(2), req.calls.Load())
}
