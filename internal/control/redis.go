package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis queues messages in a list. Every message is consumed by exactly one receiver.
type Redis struct {
	rdb  *redis.Client
	key  string
	poll time.Duration
}

var _ Bus = (*Redis)(nil)

func NewRedis(rdb *redis.Client, key string) *Redis {
	return &Redis{rdb: rdb, key: key, poll: time.Second}
}

func (b *Redis) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.rdb.RPush(ctx, b.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue control message: %w", err)
	}
	return nil
}

func (b *Redis) Receive(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := b.rdb.BLPop(ctx, b.poll, b.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("key", b.key).Msg("control queue read failed")
			select {
			case <-time.After(b.poll):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		// BLPOP answers with [key, value]
		if len(res) == 2 {
			dispatch(ctx, []byte(res[1]), h)
		}
	}
}
