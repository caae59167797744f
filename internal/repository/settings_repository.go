package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// GlobalScope is the settings scope shared by every subject.
const GlobalScope = "global"

type SettingsRepository interface {
	// Get returns the settings stored for scope (GlobalScope or a subject id).
	Get(ctx context.Context, scope string) (map[string]string, error)
	Set(ctx context.Context, scope, key, value string) error
}

type settingsRedisRepo struct {
	rdb *redis.Client
}

func NewSettingsRepository(rdb *redis.Client) SettingsRepository {
	return &settingsRedisRepo{rdb: rdb}
}

func (r *settingsRedisRepo) key(scope string) string {
	return fmt.Sprintf("reportq:settings:%s", scope)
}

func (r *settingsRedisRepo) Get(ctx context.Context, scope string) (map[string]string, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key(scope)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if vals == nil {
		vals = map[string]string{}
	}
	return vals, nil
}

func (r *settingsRedisRepo) Set(ctx context.Context, scope, key, value string) error {
	return r.rdb.HSet(ctx, r.key(scope), key, value).Err()
}
