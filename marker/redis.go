package marker

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"releasebot/models"
	"releasebot/version"
)

const defaultKey = "releasebot:version_marker"

// watchRetries bounds how often a WATCH transaction is replayed after losing
// a race before the advance is reported as a transient failure.
const watchRetries = 5

// RedisStore keeps the marker in a single Redis key. Advance runs inside a
// WATCH transaction so two concurrent publishes cannot interleave their
// read-compare-write.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: defaultKey}
}

func (s *RedisStore) Current(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", &models.TransientError{Op: "marker get", Err: err}
	}
	return v, nil
}

func (s *RedisStore) Advance(ctx context.Context, v string) (bool, error) {
	advanced := false
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, s.key).Result()
		if err == redis.Nil {
			current = ""
		} else if err != nil {
			return err
		}
		newer, err := version.Newer(v, current)
		if err != nil {
			return err
		}
		if !newer {
			advanced = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, v, 0)
			return nil
		})
		if err == nil {
			advanced = true
		}
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := s.client.Watch(ctx, txn, s.key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, &models.TransientError{Op: "marker advance", Err: err}
		}
		return advanced, nil
	}
	return false, &models.TransientError{Op: "marker advance", Err: errors.New("watch transaction kept losing races")}
}
