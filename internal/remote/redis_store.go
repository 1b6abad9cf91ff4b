package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps objects in Redis.  Content lives under
// "<prefix>:obj:<id>" and metadata in the hash "<prefix>:index" keyed by
// id.  Both are written in one MULTI/EXEC so a reader never sees one
// without the other.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
	newID  func() string
}

type redisMeta struct {
	Name     string    `json:"name"`
	Folder   string    `json:"folder"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// NewRedisStore returns a store using rdb with keys under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "seatsync"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now, newID: uuid.NewString}
}

func (s *RedisStore) indexKey() string { return s.prefix + ":index" }
func (s *RedisStore) objectKey(id string) string { return s.prefix + ":obj:" + id }

func (s *RedisStore) List(ctx context.Context) ([]Object, error) {
	entries, err := s.rdb.HGetAll(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(entries))
	for id, raw := range entries {
		var m redisMeta
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode index entry %s: %w", id, err)
		}
		out = append(out, Object{ID: id, Name: m.Name, Folder: m.Folder, Size: m.Size, Modified: m.Modified})
	}
	return out, nil
}

func (s *RedisStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.objectKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return data, err
}

func (s *RedisStore) Create(ctx context.Context, folder, name string, r io.Reader) (string, error) {
	id := s.newID()
	if err := s.write(ctx, id, redisMeta{Name: name, Folder: folder}, r); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Replace(ctx context.Context, id string, r io.Reader) error {
	raw, err := s.rdb.HGet(ctx, s.indexKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err != nil {
		return err
	}
	var m redisMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("decode index entry %s: %w", id, err)
	}
	return s.write(ctx, id, m, r)
}

func (s *RedisStore) write(ctx context.Context, id string, m redisMeta, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.Size = int64(len(data))
	m.Modified = s.now().UTC()
	meta, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.objectKey(id), data, 0)
		pipe.HSet(ctx, s.indexKey(), id, string(meta))
		return nil
	})
	return err
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.objectKey(id))
		removed = pipe.HDel(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return nil
}
