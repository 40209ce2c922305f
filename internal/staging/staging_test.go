package staging

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func exerciseStore(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "preview:missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "preview:a", []byte(`{"n":1}`), time.Hour))
	got, err := s.Get(ctx, "preview:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))

	// Overwrite replaces the value.
	require.NoError(t, s.Put(ctx, "preview:a", []byte(`{"n":2}`), time.Hour))
	got, err = s.Get(ctx, "preview:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))

	require.NoError(t, s.Delete(ctx, "preview:a"))
	_, err = s.Get(ctx, "preview:a")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, "preview:a"), "deleting twice is fine")

	if advance != nil {
		require.NoError(t, s.Put(ctx, "preview:b", []byte("x"), time.Minute))
		advance(2 * time.Minute)
		_, err = s.Get(ctx, "preview:b")
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestMemory(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	m := NewMemory()
	m.now = clock.now
	exerciseStore(t, m, clock.advance)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", v, time.Hour))
	v[0] = 'z'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	m := NewMemory()
	m.now = clock.now

	require.NoError(t, m.Put(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, m.Put(ctx, "long", []byte("2"), time.Hour))

	clock.advance(10 * time.Minute)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.entries, 1)

	got, err := m.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	var _ Sweeper = m
	var _ Sweeper = &File{}
}

func TestMemoryConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "preview:" + string(rune('a'+i))
			_ = m.Put(ctx, key, []byte{byte(i)}, time.Hour)
			got, err := m.Get(ctx, key)
			if assert.NoError(t, err) {
				assert.Equal(t, []byte{byte(i)}, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestFile(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	f, err := NewFile(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)
	f.now = clock.now
	exerciseStore(t, f, clock.advance)
}

func TestFileSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	f.now = clock.now

	require.NoError(t, f.Put(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, f.Put(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0o600))

	clock.advance(10 * time.Minute)
	n, err := f.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
}

// Set GRADEBOOK_TEST_REDIS_ADDR (e.g. localhost:6379) to run against a live server.
func TestRedis(t *testing.T) {
	addr := os.Getenv("GRADEBOOK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GRADEBOOK_TEST_REDIS_ADDR not set")
	}
	r, err := NewRedis(context.Background(), addr, "gradebook-test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	exerciseStore(t, r, nil)
}
