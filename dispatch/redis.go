package dispatch

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"releasebot/models"
)

const reservationPrefix = "releasebot:dispatch:"

// RedisReservation implements Reservation with SETNX and a TTL, so a crashed
// run cannot hold a versionRef hostage forever.
type RedisReservation struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReservation(client *redis.Client, ttl time.Duration) *RedisReservation {
	return &RedisReservation{client: client, ttl: ttl}
}

func (r *RedisReservation) Acquire(ctx context.Context, versionRef string) (bool, error) {
	ok, err := r.client.SetNX(ctx, reservationPrefix+versionRef, "1", r.ttl).Result()
	if err != nil {
		return false, &models.TransientError{Op: "acquire dispatch reservation", Err: err}
	}
	return ok, nil
}

func (r *RedisReservation) Release(ctx context.Context, versionRef string) error {
	if err := r.client.Del(ctx, reservationPrefix+versionRef).Err(); err != nil {
		return &models.TransientError{Op: "release dispatch reservation", Err: err}
	}
	return nil
}
