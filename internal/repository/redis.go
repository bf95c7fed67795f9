package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"masterok/internal/config"
	"masterok/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	providersKey = "catalog:providers"
	servicesKey  = "catalog:services"
)

type RedisCatalogCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCatalogCache(client *redis.Client, ttl time.Duration) *RedisCatalogCache {
	return &RedisCatalogCache{client: client, ttl: ttl}
}

func (r *RedisCatalogCache) get(ctx context.Context, key string, out interface{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (r *RedisCatalogCache) set(ctx context.Context, key string, value interface{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisCatalogCache) GetProviders(ctx context.Context) ([]models.Provider, error) {
	var providers []models.Provider
	if err := r.get(ctx, providersKey, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *RedisCatalogCache) SetProviders(ctx context.Context, providers []models.Provider) error {
	return r.set(ctx, providersKey, providers)
}

func (r *RedisCatalogCache) GetServices(ctx context.Context) ([]models.Service, error) {
	var services []models.Service
	if err := r.get(ctx, servicesKey, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (r *RedisCatalogCache) SetServices(ctx context.Context, services []models.Service) error {
	return r.set(ctx, servicesKey, services)
}

func (r *RedisCatalogCache) Clear(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, providersKey, servicesKey).Err(); err != nil {
		return fmt.Errorf("failed to clear catalog keys: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close shuts down the redis connection if present.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
