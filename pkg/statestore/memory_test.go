package statestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(0, WithClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(t)

	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	t.Run("absent key is not found", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty value is distinct from absent", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "empty", []byte{}, time.Minute))
		got, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("non-positive ttl is rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.Put(ctx, "k", []byte("v"), 0), ErrInvalidTTL)
		assert.ErrorIs(t, s.Put(ctx, "k", []byte("v"), -time.Second), ErrInvalidTTL)
	})

	t.Run("stored value is not aliased", func(t *testing.T) {
		buf := []byte("abc")
		require.NoError(t, s.Put(ctx, "alias", buf, time.Minute))
		buf[0] = 'z'
		got, err := s.Get(ctx, "alias")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(got))
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	require.NoError(t, s.Put(ctx, "k", []byte("v"), 300*time.Second))

	clock.Advance(299 * time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err, "entry must survive until its ttl")

	clock.Advance(time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len(), "expired entry is evicted on access")

	require.NoError(t, s.Put(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Put(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(2 * time.Second)
	s.sweep()
	assert.Equal(t, 1, s.Len())

	_, err = s.Take(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTake(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(t)

	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = s.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTakeIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "pointer", []byte("sub"), time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "pointer"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(t)

	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"), "deleting an absent key is fine")
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreJanitor(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "k", []byte("v"), time.Millisecond))
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(), "close is idempotent")
}

func TestJSONHelpers(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	ctx := context.Background()
	s, _ := newClockedStore(t)

	require.NoError(t, PutJSON(ctx, s, "rec", record{Name: "laptop", Count: 2}, time.Minute))

	var got record
	require.NoError(t, GetJSON(ctx, s, "rec", &got))
	assert.Equal(t, record{Name: "laptop", Count: 2}, got)

	var taken record
	require.NoError(t, TakeJSON(ctx, s, "rec", &taken))
	assert.Equal(t, got, taken)
	assert.ErrorIs(t, GetJSON(ctx, s, "rec", &got), ErrNotFound)

	require.NoError(t, s.Put(ctx, "garbage", []byte("{"), time.Minute))
	err := GetJSON(ctx, s, "garbage", &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStorageError(t *testing.T) {
	err := error(&StorageError{Op: "get", Err: context.DeadlineExceeded})
	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "state store get")
	assert.False(t, IsStorageError(ErrNotFound))
}
