package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	redis "github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"

	"github.com/leanprover/radar/pkg/config"
)

// Backend persists string values by key.
type Backend interface {
	// Get returns ok=false when key was never set or has been deleted.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewBackend opens the backend selected by cfg.
func NewBackend(cfg *config.PrefsConfig) (Backend, error) {
	switch cfg.Backend {
	case config.PrefsBackendBolt, "":
		return NewBoltBackend(cfg.Bolt.Path)
	case config.PrefsBackendRedis:
		return NewRedisBackend(&cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown prefs backend %q", cfg.Backend)
	}
}

const boltBucket = "prefs"

type boltBackend struct {
	db *bolt.DB
}

// Compile-time interface check.
var _ Backend = (*boltBackend)(nil)

// NewBoltBackend opens (or creates) a bbolt file at path.
func NewBoltBackend(path string) (Backend, error) {
	if path == "" {
		return nil, errors.New("prefs path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating prefs directory: %w", err)
		}
	}

	db, err := bolt.Open(cleaned, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening prefs file: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))

		return err
	}); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("creating prefs bucket: %w", err)
	}

	return &boltBackend{db: db}, nil
}

func (b *boltBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if data := tx.Bucket([]byte(boltBucket)).Get([]byte(key)); data != nil {
			value = string(data)
			found = true
		}

		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}

	return value, found, nil
}

func (b *boltBackend) Set(ctx context.Context, key, value string) error {
	return b.update(ctx, key, func(bucket *bolt.Bucket) error {
		return bucket.Put([]byte(key), []byte(value))
	})
}

func (b *boltBackend) Delete(ctx context.Context, key string) error {
	return b.update(ctx, key, func(bucket *bolt.Bucket) error {
		return bucket.Delete([]byte(key))
	})
}

func (b *boltBackend) update(ctx context.Context, key string, fn func(*bolt.Bucket) error) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		return fn(tx.Bucket([]byte(boltBucket)))
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	return nil
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}

type redisBackend struct {
	client *redis.Client
}

// Compile-time interface check.
var _ Backend = (*redisBackend)(nil)

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg *config.RedisPrefsConfig) (Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &redisBackend{client: client}, nil
}

func (r *redisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}

	return value, true, nil
}

func (r *redisBackend) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	return nil
}

func (r *redisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	return nil
}

func (r *redisBackend) Close() error {
	return r.client.Close()
}
