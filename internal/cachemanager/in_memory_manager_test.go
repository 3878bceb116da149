package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

type ExampleStruct struct {
	ID   int
	Name string
}

func TestInMemoryCacheManager_GetExistingValue_StructType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, ExampleStruct]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	example := ExampleStruct{
		Name: "claude",
	}
	cache.Set(context.Background(), "probe:1", example, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "probe:1")
	require.True(t, ok)
	require.Equal(t, example, got)
}

func TestInMemoryCacheManager_GetExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "provider", "claude", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "provider")
	require.True(t, ok)
	require.Equal(t, "claude", got)
}

func TestInMemoryCacheManager_GetWithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "provider")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithExistingInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)

	cache.cache.Set("provider", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "provider")
	require.False(t, ok)
	require.Empty(t, got)
}

type probeKey string

func TestInMemoryCacheManager_NamedKeyType(t *testing.T) {
	cache := NewInMemoryCacheManager[probeKey, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), probeKey("codex"), "available", DefaultExpiration)

	got, ok := cache.Get(context.Background(), probeKey("codex"))
	require.True(t, ok)
	require.Equal(t, "available", got)
}

func TestInMemoryCacheManager_ExpiredValueIsGone(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "provider", "claude", 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)

	got, ok := cache.Get(context.Background(), "provider")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithRefresh_WithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.GetWithRefresh(context.Background(), "provider", time.Minute*60)
	require.False(t, ok)
	require.Equal(t, "", got)
}

func TestInMemoryCacheManager_GetWithRefresh_WithExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "provider", "claude", DefaultExpiration)

	got, ok := cache.GetWithRefresh(context.Background(), "provider", time.Minute*60)
	require.True(t, ok)
	require.Equal(t, "claude", got)
}

func TestInMemoryCacheManager_GetWithRefresh_ExtendsTTL(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "provider", "claude", 20*time.Millisecond)

	_, ok := cache.GetWithRefresh(context.Background(), "provider", time.Minute)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	got, ok := cache.Get(context.Background(), "provider")
	require.True(t, ok)
	require.Equal(t, "claude", got)
}

func TestInMemoryCacheManager_DeleteWithNoKeysDoesNothing(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)

	err := cache.Delete(context.Background())
	require.NoError(t, err)
}

func TestInMemoryCacheManager_DeleteExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "provider", "claude", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "provider")
	require.True(t, ok)
	require.Equal(t, "claude", got)

	err := cache.Delete(context.Background(), "provider")
	require.NoError(t, err)

	got, ok = cache.Get(context.Background(), "provider")
	require.False(t, ok)
	require.Equal(t, "", got)
}

func TestInMemoryCacheManager_Flush(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("probe-cache", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "provider", "claude", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "provider")
	require.True(t, ok)
	require.Equal(t, "claude", got)

	err := cache.Flush(context.Background())
	require.NoError(t, err)

	got, ok = cache.Get(context.Background(), "provider")
	require.False(t, ok)
	require.Equal(t, "", got)
}
