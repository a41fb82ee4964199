package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTier struct {
	mu   sync.Mutex
	data map[string]entry
	err  error
	puts int
}

func newMemTier() *memTier {
	return &memTier{data: make(map[string]entry)}
}

func (m *memTier) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, time.Time{}, false, m.err
	}
	e, ok := m.data[key]
	return e.data, e.expiry, ok, nil
}

func (m *memTier) Put(ctx context.Context, key string, data []byte, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.puts++
	m.data[key] = entry{data: data, expiry: expiry}
	return nil
}

func (m *memTier) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return m.err
}

func constant(s string, calls *atomic.Int32) func(context.Context) (Value, error) {
	return func(context.Context) (Value, error) {
		calls.Add(1)
		return Value{Data: []byte(s)}, nil
	}
}

func newLayer(t *testing.T, opts Options) *Layer {
	t.Helper()
	l, err := New(opts)
	require.NoError(t, err)
	return l
}

func TestKey(t *testing.T) {
	nfc := Key("grammar/1", "canción", "fp")
	nfd := Key("grammar/1", "cancio\u0301n", "fp")
	assert.Equal(t, nfc, nfd)
	assert.Len(t, nfc, 64)

	assert.NotEqual(t, nfc, Key("style/1", "canción", "fp"))
	assert.NotEqual(t, nfc, Key("grammar/1", "canción", "other"))
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	l := newLayer(t, Options{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (Value, error) {
		calls.Add(1)
		<-release
		return Value{Data: []byte("result")}, nil
	}

	const callers = 50
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := l.GetOrCompute(context.Background(), "k", 0, compute)
			results[i], errs[i] = string(data), err
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "result", results[i])
	}
	st := l.Stats()
	assert.Equal(t, int64(1), st.Computes)
	assert.Equal(t, int64(callers), st.Hits+st.Misses)
}

func TestGetOrCompute_Hit(t *testing.T) {
	l := newLayer(t, Options{})
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		data, err := l.GetOrCompute(context.Background(), "k", time.Minute, constant("v", &calls))
		require.NoError(t, err)
		assert.Equal(t, "v", string(data))
	}
	assert.Equal(t, int32(1), calls.Load())
	st := l.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 2.0/3.0, st.HitRate(), 0.001)
}

func TestGetOrCompute_FailuresAreNotCached(t *testing.T) {
	l := newLayer(t, Options{})
	boom := errors.New("boom")
	var calls atomic.Int32
	failing := func(context.Context) (Value, error) {
		calls.Add(1)
		return Value{}, boom
	}

	_, err := l.GetOrCompute(context.Background(), "k", 0, failing)
	assert.ErrorIs(t, err, boom)
	_, err = l.GetOrCompute(context.Background(), "k", 0, failing)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, l.Stats().Entries)
}

func TestGetOrCompute_TransientValuesAreNotStored(t *testing.T) {
	tier := newMemTier()
	l := newLayer(t, Options{Durable: tier})
	var calls atomic.Int32
	transient := func(context.Context) (Value, error) {
		calls.Add(1)
		return Value{Data: []byte("degraded"), Transient: true}, nil
	}

	data, err := l.GetOrCompute(context.Background(), "k", 0, transient)
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(data))
	_, err = l.GetOrCompute(context.Background(), "k", 0, transient)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, tier.puts)
}

func TestGetOrCompute_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLayer(t, Options{Now: func() time.Time { return now }})
	var calls atomic.Int32

	_, err := l.GetOrCompute(context.Background(), "k", time.Minute, constant("v", &calls))
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = l.GetOrCompute(context.Background(), "k", time.Minute, constant("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(time.Minute)
	_, err = l.GetOrCompute(context.Background(), "k", time.Minute, constant("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_LRUEviction(t *testing.T) {
	l := newLayer(t, Options{Capacity: 2})
	var calls atomic.Int32
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := l.GetOrCompute(ctx, k, 0, constant(k, &calls))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), l.Stats().Evictions)
	assert.Equal(t, 2, l.Stats().Entries)

	_, err := l.GetOrCompute(ctx, "a", 0, constant("a", &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestDurableTier(t *testing.T) {
	tier := newMemTier()
	ctx := context.Background()
	var calls atomic.Int32

	first := newLayer(t, Options{Durable: tier})
	_, err := first.GetOrCompute(ctx, "k", time.Hour, constant("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, tier.puts)

	// a fresh process sees the durable entry and promotes it
	second := newLayer(t, Options{Durable: tier})
	data, err := second.GetOrCompute(ctx, "k", time.Hour, constant("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, second.Stats().Entries)

	require.NoError(t, second.Invalidate(ctx, "k"))
	data, err = second.GetOrCompute(ctx, "k", time.Hour, constant("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))
}

func TestDurableTierErrorsAreMisses(t *testing.T) {
	tier := newMemTier()
	tier.err = errors.New("database is locked")
	l := newLayer(t, Options{Durable: tier})
	var calls atomic.Int32

	data, err := l.GetOrCompute(context.Background(), "k", 0, constant("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))

	data, err = l.GetOrCompute(context.Background(), "k", 0, constant("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCompute_WaiterHonoursContext(t *testing.T) {
	l := newLayer(t, Options{})
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	go l.GetOrCompute(context.Background(), "k", 0, func(context.Context) (Value, error) {
		close(started)
		<-release
		return Value{Data: []byte("late")}, nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.GetOrCompute(ctx, "k", 0, func(context.Context) (Value, error) {
		t.Error("waiter must not compute")
		return Value{}, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrCompute_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	l := newLayer(t, Options{})
	started := make(chan struct{})
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := l.GetOrCompute(leaderCtx, "k", 0, func(ctx context.Context) (Value, error) {
			close(started)
			<-ctx.Done()
			return Value{}, ctx.Err()
		})
		leaderErr <- err
	}()
	<-started

	type result struct {
		data []byte
		err  error
	}
	waiter := make(chan result, 1)
	go func() {
		data, err := l.GetOrCompute(context.Background(), "k", 0, func(context.Context) (Value, error) {
			return Value{Data: []byte("fresh")}, nil
		})
		waiter <- result{data, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, "fresh", string(got.data))

	data, err := l.GetOrCompute(context.Background(), "k", 0, func(context.Context) (Value, error) {
		t.Error("value should be cached after the retry")
		return Value{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestGetOrCompute_UnitTimeoutIsNotRetried(t *testing.T) {
	l := newLayer(t, Options{})
	var calls atomic.Int32
	_, err := l.GetOrCompute(context.Background(), "k", 0, func(context.Context) (Value, error) {
		calls.Add(1)
		return Value{}, context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}
