package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecstash/internal/vector"
)

func openTestStore(t *testing.T, cfg PoolConfig) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPoolAcquireRelease(t *testing.T) {
	s := openTestStore(t, PoolConfig{MaxSlots: 2})
	ctx := context.Background()

	s1, err := s.Pool().Acquire(ctx)
	require.NoError(t, err)
	s2, err := s.Pool().Acquire(ctx)
	require.NoError(t, err)

	s.Pool().Release(s1)
	s.Pool().Release(s2)

	// Released slots are reusable.
	s3, err := s.Pool().Acquire(ctx)
	require.NoError(t, err)
	s.Pool().Release(s3)
}

func TestPoolExhaustedAfterTimeout(t *testing.T) {
	s := openTestStore(t, PoolConfig{MaxSlots: 1, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	held, err := s.Pool().Acquire(ctx)
	require.NoError(t, err)
	defer s.Pool().Release(held)

	start := time.Now()
	_, err = s.Pool().Acquire(ctx)
	assert.ErrorIs(t, err, vector.ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPoolReleaseUnblocksWaiter(t *testing.T) {
	s := openTestStore(t, PoolConfig{MaxSlots: 1, AcquireTimeout: 2 * time.Second})
	ctx := context.Background()

	held, err := s.Pool().Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		slot, err := s.Pool().Acquire(ctx)
		if err == nil {
			s.Pool().Release(slot)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Pool().Release(held)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired a slot after release")
	}
}

func TestPoolCallerCancellation(t *testing.T) {
	s := openTestStore(t, PoolConfig{MaxSlots: 1, AcquireTimeout: 5 * time.Second})

	held, err := s.Pool().Acquire(context.Background())
	require.NoError(t, err)
	defer s.Pool().Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = s.Pool().Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
