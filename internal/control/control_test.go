package control

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, PublishSchedule(1).Validate())
	assert.NoError(t, PublishPower(2).Validate())
	assert.NoError(t, Ping().Validate())

	assert.ErrorIs(t, Message{Type: TypeSchedule}.Validate(), ErrMalformed)
	assert.ErrorIs(t, Message{}.Validate(), ErrMalformed)
	assert.ErrorIs(t, Message{Type: "reboot"}.Validate(), ErrMalformed)
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"power","power":4}`))
	require.NoError(t, err)
	assert.Equal(t, PublishPower(4), m)

	_, err = Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

// collect runs send and waits until n messages arrived on bus.
func collect(t *testing.T, bus Bus, n int, send func(ctx context.Context)) []Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Message, n)
	done := make(chan error, 1)
	go func() {
		done <- bus.Receive(ctx, func(_ context.Context, m Message) { got <- m })
	}()
	send(ctx)

	out := make([]Message, 0, n)
	for len(out) < n {
		select {
		case m := <-got:
			out = append(out, m)
		case <-ctx.Done():
			t.Fatalf("received %d of %d messages", len(out), n)
		}
	}
	cancel()
	require.NoError(t, <-done)
	return out
}

func TestMemoryBusSkipsGarbage(t *testing.T) {
	bus := NewMemory(8)
	got := collect(t, bus, 2, func(ctx context.Context) {
		require.NoError(t, bus.Send(ctx, PublishSchedule(3)))
		require.NoError(t, bus.SendRaw(ctx, []byte("garbage")))
		require.NoError(t, bus.Send(ctx, Ping()))
	})
	assert.Equal(t, []Message{PublishSchedule(3), Ping()}, got)
}

func TestRedisBus(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	key := "signage-test:control"
	require.NoError(t, rdb.Del(context.Background(), key).Err())

	bus := NewRedis(rdb, key)
	got := collect(t, bus, 2, func(ctx context.Context) {
		require.NoError(t, bus.Send(ctx, PublishPower(1)))
		require.NoError(t, rdb.RPush(ctx, key, "garbage").Err())
		require.NoError(t, bus.Send(ctx, PublishSchedule(2)))
	})
	assert.Equal(t, []Message{PublishPower(1), PublishSchedule(2)}, got)
}

func TestAMQPBus(t *testing.T) {
	url := os.Getenv("TEST_AMQP_URL")
	if url == "" {
		t.Skip("TEST_AMQP_URL not set")
	}
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()

	bus, err := NewAMQP(conn, "signage-test-control")
	require.NoError(t, err)
	defer bus.Close()
	_, err = bus.ch.QueuePurge("signage-test-control", false)
	require.NoError(t, err)

	got := collect(t, bus, 1, func(ctx context.Context) {
		require.NoError(t, bus.Send(ctx, PublishSchedule(9)))
	})
	assert.Equal(t, []Message{PublishSchedule(9)}, got)
}
