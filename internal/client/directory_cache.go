package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
)

const (
	profileKeyPrefix = "approvals:profile:"
	profileListKey   = "approvals:profiles"
)

// DirectoryCache is a read-through redis cache in front of the profile
// directory. Redis failures fall back to the source and are logged.
// Entries may be up to ttl stale, so it feeds notification recipients and
// participant checks only; authorization reads the store.
type DirectoryCache struct {
	rdb    goredis.UniversalClient
	source repository.ProfileReader
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisClient dials redis and verifies it answers.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func NewDirectoryCache(rdb goredis.UniversalClient, source repository.ProfileReader, ttl time.Duration, log zerolog.Logger) *DirectoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DirectoryCache{rdb: rdb, source: source, ttl: ttl, log: log}
}

func (c *DirectoryCache) GetProfile(ctx context.Context, id string) (*repository.Profile, error) {
	key := profileKeyPrefix + id

	var p repository.Profile
	if c.load(ctx, key, &p) {
		return &p, nil
	}

	profile, err := c.source.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, profile)
	return profile, nil
}

func (c *DirectoryCache) ListProfiles(ctx context.Context) ([]*repository.Profile, error) {
	var list []*repository.Profile
	if c.load(ctx, profileListKey, &list) {
		return list, nil
	}

	list, err := c.source.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, profileListKey, list)
	return list, nil
}

func (c *DirectoryCache) load(ctx context.Context, key string, dest any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Directory cache read failed, using database")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Directory cache entry is corrupt, using database")
		return false
	}
	return true
}

func (c *DirectoryCache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Directory cache write failed")
	}
}
