package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/stephnangue/belfry/logger"
	"github.com/stephnangue/belfry/physical"
)

// Verify interfaces are satisfied
var _ physical.Storage = (*RedisStorage)(nil)

const (
	defaultDialTimeout = 5 * time.Second
	defaultOpTimeout   = 3 * time.Second
)

// RedisStorage is a durable Storage backed by a Redis (or compatible)
// server. Conditional writes use WATCH/MULTI so the compare and the
// write are atomic on the server side.
type RedisStorage struct {
	client     *goredis.Client
	permitPool *physical.PermitPool
	logger     log.Logger
}

// NewRedisStorage constructs a new Redis-backed storage and verifies
// connectivity before returning.
func NewRedisStorage(conf map[string]string, logger log.Logger) (physical.Storage, error) {
	address, ok := conf["address"]
	if !ok || address == "" {
		return nil, errors.New("'address' must be set for redis storage")
	}

	db := 0
	if raw, ok := conf["database"]; ok && raw != "" {
		var err error
		db, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid redis database %q: %w", raw, err)
		}
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         address,
		Password:     conf["password"],
		DB:           db,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultOpTimeout,
		WriteTimeout: defaultOpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}

	return &RedisStorage{
		client:     client,
		permitPool: physical.NewPermitPool(physical.DefaultParallelOperations),
		logger:     logger,
	}, nil
}

// Put is used to insert or update an entry
func (r *RedisStorage) Put(ctx context.Context, entry *physical.Entry) error {
	r.permitPool.Acquire()
	defer r.permitPool.Release()

	return r.client.Set(ctx, entry.Key, entry.Value, 0).Err()
}

// Get is used to fetch an entry
func (r *RedisStorage) Get(ctx context.Context, key string) (*physical.Entry, error) {
	r.permitPool.Acquire()
	defer r.permitPool.Release()

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &physical.Entry{
		Key:   key,
		Value: val,
	}, nil
}

// CompareAndSwap conditionally replaces the value at key.
func (r *RedisStorage) CompareAndSwap(ctx context.Context, key string, old, new []byte) error {
	r.permitPool.Acquire()
	defer r.permitPool.Release()

	txn := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		if !bytes.Equal(current, old) {
			return physical.ErrCASMismatch
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if new == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, new, 0)
			}
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txn, key)
	if errors.Is(err, goredis.TxFailedErr) {
		// The key changed between WATCH and EXEC: the caller lost the
		// race just the same.
		return physical.ErrCASMismatch
	}
	return err
}

// Delete is used to permanently delete an entry
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	r.permitPool.Acquire()
	defer r.permitPool.Release()

	return r.client.Del(ctx, key).Err()
}

// List is used to list all the keys under a given prefix, up to the
// next prefix.
func (r *RedisStorage) List(ctx context.Context, prefix string) ([]string, error) {
	r.permitPool.Acquire()
	defer r.permitPool.Release()

	var out []string
	seen := make(map[string]struct{})

	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		trimmed := strings.TrimPrefix(iter.Val(), prefix)
		if sep := strings.Index(trimmed, "/"); sep != -1 {
			trimmed = trimmed[:sep+1]
		}
		if _, ok := seen[trimmed]; !ok {
			out = append(out, trimmed)
			seen[trimmed] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Close releases the client connection pool.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
