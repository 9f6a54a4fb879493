package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. Key layout:
//
//	<prefix>rec:<id>          => JSON-encoded Record
//	<prefix>idx:<collection>  => SET of record ids in the collection
type RedisStore struct {
	client *redis.Client
	prefix string
	now    Clock
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. The default is "taskflow:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "taskflow:", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) keyRecord(id string) string {
	return s.prefix + "rec:" + id
}

func (s *RedisStore) keyCollection(collection string) string {
	return s.prefix + "idx:" + collection
}

func (s *RedisStore) CreateRecord(ctx context.Context, collection string, fields Fields) (string, error) {
	if collection == "" {
		return "", ErrEmptyCollection
	}
	now := s.now().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Fields:     Fields{}.Merge(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.keyRecord(rec.ID), data, 0)
		p.SAdd(ctx, s.keyCollection(collection), rec.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save record: %w", err)
	}
	return rec.ID, nil
}

// mutate applies fn to the stored record under WATCH so concurrent
// writers to the same id do not lose updates.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*Record)) error {
	key := s.keyRecord(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", id, err)
		}
		fn(&rec)
		rec.UpdatedAt = s.now().UTC()

		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) ArchiveRecord(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(r *Record) { r.Archived = true })
}

func (s *RedisStore) UpdateRecord(ctx context.Context, id string, fields Fields) error {
	return s.mutate(ctx, id, func(r *Record) { r.Fields = r.Fields.Merge(fields) })
}

func (s *RedisStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.keyRecord(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	if rec.Fields == nil {
		rec.Fields = Fields{}
	}
	return &rec, nil
}

// CollectionIDs returns the ids of every record created in collection.
func (s *RedisStore) CollectionIDs(ctx context.Context, collection string) ([]string, error) {
	return s.client.SMembers(ctx, s.keyCollection(collection)).Result()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
