package repository

import (
	"context"
	"testing"
	"time"

	"masterok/internal/config"
	"masterok/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisCache(t *testing.T) (*RedisCatalogCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCatalogCache(client, time.Hour), mr
}

var testProviders = []models.Provider{
	{ID: "prv-1", Name: "Ivan", Rating: 4.8, City: "Almaty", IsActive: true},
	{ID: "prv-2", Name: "Aigerim", Rating: 4.9, City: "Astana", IsActive: true},
}

var testServices = []models.Service{
	{ID: "srv-1", Name: "Plumbing", Category: "home", BasePrice: 5000, IsActive: true},
}

func TestRedisCatalogCache_RoundTrip(t *testing.T) {
	cache, _ := newMiniredisCache(t)
	ctx := context.Background()

	// Empty cache yields nil, not an error.
	providers, err := cache.GetProviders(ctx)
	require.NoError(t, err)
	assert.Nil(t, providers)

	require.NoError(t, cache.SetProviders(ctx, testProviders))
	require.NoError(t, cache.SetServices(ctx, testServices))

	providers, err = cache.GetProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "Ivan", providers[0].Name)

	services, err := cache.GetServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)

	require.NoError(t, cache.Clear(ctx))
	providers, err = cache.GetProviders(ctx)
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestRedisCatalogCache_NilClient(t *testing.T) {
	cache := NewRedisCatalogCache(nil, time.Hour)

	_, err := cache.GetProviders(context.Background())
	assert.Error(t, err)
	assert.Error(t, cache.SetProviders(context.Background(), testProviders))
}

func TestMemoryCatalogCache(t *testing.T) {
	cache := NewMemoryCatalogCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.SetProviders(ctx, testProviders))
	providers, err := cache.GetProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	require.NoError(t, cache.Clear(ctx))
	providers, err = cache.GetProviders(ctx)
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestMemoryCatalogCache_TTLExpiry(t *testing.T) {
	cache := NewMemoryCatalogCache(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, cache.SetServices(ctx, testServices))
	time.Sleep(30 * time.Millisecond)

	services, err := cache.GetServices(ctx)
	require.NoError(t, err)
	assert.Nil(t, services)
}

func TestFailoverCatalogCache_FallsBackWhenPrimaryDies(t *testing.T) {
	primary, mr := newMiniredisCache(t)
	fallback := NewMemoryCatalogCache(time.Hour)
	logger := zerolog.Nop()
	cache := NewFailoverCatalogCache(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, cache.SetProviders(ctx, testProviders))

	// Primary healthy: reads come from redis.
	providers, err := cache.GetProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	// Kill redis: reads transparently shift to the memory fallback, which
	// SetProviders also populated.
	mr.Close()

	providers, err = cache.GetProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	// Writes keep working against the fallback.
	assert.NoError(t, cache.SetServices(ctx, testServices))
	services, err := cache.GetServices(ctx)
	require.NoError(t, err)
	assert.Len(t, services, 1)
}

func TestPingAndClose(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
	assert.NoError(t, Close(nil))
}

func TestRedisDeadLetterSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sink := NewRedisDeadLetterSink(client)
	ctx := context.Background()

	require.NoError(t, sink.Push(ctx, []byte(`{"kind":"create_booking","cause":"max retries reached"}`)))
	require.NoError(t, sink.Push(ctx, []byte(`{"kind":"create_review","cause":"remote: invalid (status 422)"}`)))

	entries, err := client.LRange(ctx, "sync:deadletter", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// LPUSH ordering: newest first.
	assert.Contains(t, entries[0], "create_review")

	nilSink := NewRedisDeadLetterSink(nil)
	assert.Error(t, nilSink.Push(ctx, []byte(`{}`)))
}
