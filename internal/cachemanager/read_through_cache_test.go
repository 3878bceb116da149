package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCacheManager records calls so tests can assert which path Get took.
type fakeCacheManager[K comparable, V any] struct {
	values    map[K]V
	getCalls  int
	refreshes int
	sets      int
}

func newFakeCacheManager[K comparable, V any]() *fakeCacheManager[K, V] {
	return &fakeCacheManager[K, V]{values: make(map[K]V)}
}

func (f *fakeCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	f.getCalls++
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	f.refreshes++
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeCacheManager[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	f.sets++
	f.values[key] = value
}

func (f *fakeCacheManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeCacheManager[K, V]) Flush(ctx context.Context) error {
	f.values = make(map[K]V)
	return nil
}

func TestReadThroughCache_Get_WithCacheDisabled(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	loads := 0
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		loads++
		return "loaded", nil
	}, true)

	got, err := rtc.Get(context.Background(), "key", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "loaded", got)

	got, err = rtc.Get(context.Background(), "key", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "loaded", got)

	require.Equal(t, 2, loads)
	require.Zero(t, cache.getCalls)
	require.Zero(t, cache.sets)
}

func TestReadThroughCache_GetWithRefresh_WithCacheDisabled(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	loads := 0
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		loads++
		return "loaded", nil
	}, true)

	got, err := rtc.GetWithRefresh(context.Background(), "key", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "loaded", got)

	require.Equal(t, 1, loads)
	require.Zero(t, cache.refreshes)
	require.Zero(t, cache.sets)
}

func TestReadThroughCache_Get_WithValueInCache(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	cache.values["key"] = "cached"
	loads := 0
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		loads++
		return "loaded", nil
	}, false)

	got, err := rtc.Get(context.Background(), "key", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "cached", got)
	require.Zero(t, loads)
}

func TestReadThroughCache_Get_EmptyCache(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	loads := 0
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		loads++
		require.Equal(t, 42, input)
		return "loaded", nil
	}, false)

	got, err := rtc.Get(context.Background(), "key", 42, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "loaded", got)
	require.Equal(t, 1, loads)
	require.Equal(t, 1, cache.sets)
	require.Equal(t, "loaded", cache.values["key"])
}

func TestReadThroughCache_Get_LoaderError(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	loadErr := errors.New("probe failed")
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		return "", loadErr
	}, false)

	_, err := rtc.Get(context.Background(), "key", 0, time.Minute)
	require.ErrorIs(t, err, loadErr)
	require.Zero(t, cache.sets)
}

func TestReadThroughCache_GetWithRefresh_WithValueInCache(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	cache.values["key"] = "cached"
	loads := 0
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		loads++
		return "loaded", nil
	}, false)

	got, err := rtc.GetWithRefresh(context.Background(), "key", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "cached", got)
	require.Zero(t, loads)
	require.Equal(t, 1, cache.refreshes)
}

func TestReadThroughCache_GetWithRefresh_EmptyCache(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	loads := 0
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		loads++
		return "loaded", nil
	}, false)

	got, err := rtc.GetWithRefresh(context.Background(), "key", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "loaded", got)
	require.Equal(t, 1, loads)
	require.Equal(t, 1, cache.sets)
}

func TestReadThroughCache_GetWithRefresh_LoaderError(t *testing.T) {
	cache := newFakeCacheManager[string, string]()
	loadErr := errors.New("probe failed")
	rtc := NewReadThroughCache[string, string, int](cache, func(ctx context.Context, input int) (string, error) {
		return "", loadErr
	}, false)

	_, err := rtc.GetWithRefresh(context.Background(), "key", 0, time.Minute)
	require.ErrorIs(t, err, loadErr)
	require.Zero(t, cache.sets)
}
