package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisLayer keeps memberships in a local Hub and routes every send through Redis
// pub/sub, so a scheduler in one process reaches sessions held by another.
type RedisLayer struct {
	*Hub
	rdb    *redis.Client
	prefix string
}

var _ Layer = (*RedisLayer)(nil)

func NewRedisLayer(rdb *redis.Client, prefix string) *RedisLayer {
	return &RedisLayer{Hub: NewHub(), rdb: rdb, prefix: prefix}
}

func (r *RedisLayer) channelKey(channel string) string {
	return r.prefix + "channel:" + channel
}

func (r *RedisLayer) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *RedisLayer) publish(ctx context.Context, key string, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, key, payload).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis publish failed")
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (r *RedisLayer) SendToChannel(ctx context.Context, channel string, e Event) error {
	return r.publish(ctx, r.channelKey(channel), e)
}

func (r *RedisLayer) SendToSession(ctx context.Context, sessionID string, e Event) error {
	return r.publish(ctx, r.sessionKey(sessionID), e)
}

// Run relays published events to the local hub until ctx is done.
func (r *RedisLayer) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", r.prefix, err)
	}
	log.Info().Str("pattern", r.prefix+"*").Msg("broadcast relay subscribed")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.dispatch(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisLayer) dispatch(key, payload string) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("dropping malformed broadcast")
		return
	}
	rest := strings.TrimPrefix(key, r.prefix)
	switch {
	case strings.HasPrefix(rest, "channel:"):
		r.deliverChannel(strings.TrimPrefix(rest, "channel:"), e)
	case strings.HasPrefix(rest, "session:"):
		r.deliverSession(strings.TrimPrefix(rest, "session:"), e)
	}
}
