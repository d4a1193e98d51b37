package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wellfed/api/internal/util"
)

const redisMaxRetries = 5

// RedisStore keeps each record as a JSON document under its path and
// publishes the full document on a per-record channel after every write.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "wellfed:", now: time.Now}
}

func (s *RedisStore) key(path Path) string {
	return s.prefix + path.String()
}

func (s *RedisStore) channel(path Path) string {
	return s.prefix + "changes:" + path.String()
}

func (s *RedisStore) CreateRecord(ctx context.Context, path Path, initial Record) (Path, error) {
	if err := path.validate(false); err != nil {
		return Path{}, err
	}
	path.RecordID = util.NewID("rec")
	rec := initial
	rec.ID = path.RecordID
	if rec.FormData == nil {
		rec.FormData = map[string]any{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusInProgress
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Path{}, fmt.Errorf("marshal record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(path), payload, 0).Result()
	if err != nil {
		return Path{}, fmt.Errorf("create record: %w", err)
	}
	if !created {
		return Path{}, fmt.Errorf("create record: id collision at %s", path)
	}
	if err := s.client.Publish(ctx, s.channel(path), payload).Err(); err != nil {
		return Path{}, fmt.Errorf("publish record: %w", err)
	}
	return path, nil
}

// WriteRecord merges write into the stored record under WATCH so concurrent
// writers never drop each other's fields.
func (s *RedisStore) WriteRecord(ctx context.Context, path Path, write Write) error {
	if err := path.validate(true); err != nil {
		return err
	}
	key := s.key(path)
	txf := func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			rec = Record{CreatedAt: s.now().UTC(), Status: StatusInProgress}
		} else if err != nil {
			return err
		}
		rec = mergeInto(rec, write)
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.Publish(ctx, s.channel(path), payload)
			return nil
		})
		return err
	}

	for range redisMaxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		return nil
	}
	return fmt.Errorf("write record %s: too much contention", path)
}

func (s *RedisStore) GetRecord(ctx context.Context, path Path) (Record, error) {
	rec, err := s.read(ctx, s.client, s.key(path))
	if err != nil {
		return Record{}, err
	}
	rec.ID = path.RecordID
	return rec, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c stringGetter, key string) (Record, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.FormData == nil {
		rec.FormData = map[string]any{}
	}
	return rec, nil
}

func (s *RedisStore) List(ctx context.Context, path Path) ([]Record, error) {
	pattern := s.prefix + path.Collection() + "/*"
	items := make([]Record, 0)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := s.read(ctx, s.client, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec.ID = key[len(pattern)-1:]
		items = append(items, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sortNewest(items)
	return items, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, path Path, onSnapshot func(Snapshot), onError func(error)) (func(), error) {
	if err := path.validate(true); err != nil {
		return nil, err
	}
	pubsub := s.client.Subscribe(ctx, s.channel(path))
	// Wait for the subscription to be live before reading the initial state
	// so no write can fall between the two.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	f := newFeed(onSnapshot)
	rec, err := s.GetRecord(ctx, path)
	switch {
	case errors.Is(err, ErrNotFound):
		f.push(Snapshot{Path: path})
	case err != nil:
		_ = pubsub.Close()
		f.close()
		return nil, err
	default:
		f.push(Snapshot{Path: path, Exists: true, Record: rec})
	}

	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			var rec Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				if onError != nil {
					onError(fmt.Errorf("decode snapshot for %s: %w", path, err))
				}
				continue
			}
			rec.ID = path.RecordID
			if rec.FormData == nil {
				rec.FormData = map[string]any{}
			}
			f.push(Snapshot{Path: path, Exists: true, Record: rec})
		}
	}()

	return func() {
		f.close()
		_ = pubsub.Close()
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
