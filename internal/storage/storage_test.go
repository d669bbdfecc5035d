package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStateStore exercises the single-use contract shared by every backend
func testStateStore(t *testing.T, newStore func(t *testing.T) StateStore) {
	t.Run("consume_once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		state, err := store.Issue(ctx, "/dashboard")
		require.NoError(t, err)
		assert.Len(t, state, 43) // 32 bytes, unpadded base64url

		req, err := store.Consume(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, state, req.State)
		assert.Equal(t, "/dashboard", req.ReturnURL)
		assert.True(t, req.ExpiresAt.After(req.CreatedAt))

		_, err = store.Consume(ctx, state)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredState)
	})

	t.Run("unknown_state", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Consume(context.Background(), "never-issued")
		assert.ErrorIs(t, err, ErrInvalidOrExpiredState)

		_, err = store.Consume(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidOrExpiredState)
	})

	t.Run("states_are_unique", func(t *testing.T) {
		store := newStore(t)
		seen := make(map[string]bool)
		for range 50 {
			state, err := store.Issue(context.Background(), "/")
			require.NoError(t, err)
			assert.False(t, seen[state])
			seen[state] = true
		}
	})

	t.Run("concurrent_consume_single_winner", func(t *testing.T) {
		store := newStore(t)
		state, err := store.Issue(context.Background(), "/")
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Consume(context.Background(), state); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
