package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/redis"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.([]byte)
	return nil
}

func (m *memKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func ptr(s string) *string { return &s }

func TestGetOrLoadCachesResult(t *testing.T) {
	m := metrics.New()
	c := New(newMemKV(), time.Minute, m)
	var loads atomic.Int32
	load := func(ctx context.Context) (*portfolio.Portfolio, error) {
		loads.Add(1)
		return &portfolio.Portfolio{ID: 3, Title: "x", TechStack: ptr("go"), ProjectIDs: []int64{1}}, nil
	}

	first, err := c.GetOrLoad(context.Background(), 3, load)
	require.NoError(t, err)
	second, err := c.GetOrLoad(context.Background(), 3, load)
	require.NoError(t, err)

	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, "go", *second.TechStack)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
}

func TestInvalidateForcesReload(t *testing.T) {
	c := New(newMemKV(), time.Minute, nil)
	title := "before"
	load := func(ctx context.Context) (*portfolio.Portfolio, error) {
		return &portfolio.Portfolio{ID: 1, Title: title}, nil
	}
	_, err := c.GetOrLoad(context.Background(), 1, load)
	require.NoError(t, err)

	title = "after"
	require.NoError(t, c.Invalidate(context.Background(), 1))
	got, err := c.GetOrLoad(context.Background(), 1, load)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
}

func TestLoadErrorNotCached(t *testing.T) {
	kv := newMemKV()
	c := New(kv, time.Minute, nil)
	_, err := c.GetOrLoad(context.Background(), 9, func(ctx context.Context) (*portfolio.Portfolio, error) {
		return nil, errors.New("not found")
	})
	require.Error(t, err)
	assert.Empty(t, kv.data)
}

func TestRedisFailureFallsThroughToLoad(t *testing.T) {
	kv := newMemKV()
	kv.err = errors.New("connection refused")
	c := New(kv, time.Minute, nil)

	got, err := c.GetOrLoad(context.Background(), 2, func(ctx context.Context) (*portfolio.Portfolio, error) {
		return &portfolio.Portfolio{ID: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c := New(newMemKV(), time.Minute, nil)
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (*portfolio.Portfolio, error) {
		loads.Add(1)
		<-release
		return &portfolio.Portfolio{ID: 5}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad(context.Background(), 5, load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int32(2))
}
