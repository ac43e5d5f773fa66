package broadcast

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	id  string
	out chan Event
}

func newMember(id string, buffer int) *member {
	return &member{id: id, out: make(chan Event, buffer)}
}

func (m *member) ID() string { return m.id }

func (m *member) Deliver(e Event) bool {
	select {
	case m.out <- e:
		return true
	default:
		return false
	}
}

func TestHubFanOut(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	a, b, c := newMember("a", 1), newMember("b", 1), newMember("c", 1)

	require.NoError(t, h.Join(ctx, "schedule.1", a))
	require.NoError(t, h.Join(ctx, "schedule.1", b))
	require.NoError(t, h.Join(ctx, "schedule.2", c))

	require.NoError(t, h.SendToChannel(ctx, "schedule.1", PlaylistEvent(4)))
	assert.Equal(t, PlaylistEvent(4), <-a.out)
	assert.Equal(t, PlaylistEvent(4), <-b.out)
	assert.Empty(t, c.out)
}

func TestHubLeave(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	a := newMember("a", 4)

	require.NoError(t, h.Join(ctx, "schedule.1", a))
	require.NoError(t, h.Join(ctx, "power.1", a))
	require.NoError(t, h.Leave(ctx, "schedule.1", a))
	assert.Equal(t, []string{"power.1"}, h.Channels("a"))

	require.NoError(t, h.SendToChannel(ctx, "schedule.1", PlaylistEvent(1)))
	assert.Empty(t, a.out)

	require.NoError(t, h.LeaveAll(ctx, a))
	assert.Empty(t, h.Channels("a"))
	require.NoError(t, h.SendToSession(ctx, "a", PowerEvent(true)))
	assert.Empty(t, a.out)
}

func TestHubSendToSession(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	a := newMember("a", 1)
	require.NoError(t, h.Join(ctx, "power.3", a))

	require.NoError(t, h.SendToSession(ctx, "a", PowerEvent(false)))
	assert.Equal(t, Event{Type: PowerOff}, <-a.out)
}

func TestHubDropsForSlowMember(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	slow := newMember("slow", 1)
	require.NoError(t, h.Join(ctx, "power.1", slow))

	assert.Equal(t, 1, h.deliverChannel("power.1", PowerEvent(true)))
	assert.Equal(t, 0, h.deliverChannel("power.1", PowerEvent(false)))
	assert.Equal(t, PowerEvent(true), <-slow.out)
}

func TestHubConcurrentUse(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newMember("m"+strconv.Itoa(i), 8)
			_ = h.Join(ctx, "schedule.1", m)
			_ = h.SendToChannel(ctx, "schedule.1", PlaylistEvent(i))
			_ = h.LeaveAll(ctx, m)
		}(i)
	}
	wg.Wait()
}

type token struct{ err error }

func (t token) Wait() bool                     { return true }
func (t token) WaitTimeout(time.Duration) bool { return true }
func (t token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t token) Error() error { return t.err }

type publisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *publisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, payload.([]byte))
	return token{}
}

func TestMQTTMirror(t *testing.T) {
	ctx := context.Background()
	pub := &publisher{}
	hub := NewHub()
	layer := NewMQTTMirror(hub, pub, "signage/")
	a := newMember("a", 1)
	require.NoError(t, layer.Join(ctx, "schedule.5", a))

	require.NoError(t, layer.SendToChannel(ctx, "schedule.5", PlaylistEvent(2)))
	assert.Equal(t, PlaylistEvent(2), <-a.out)
	require.Equal(t, []string{"signage/schedule/5"}, pub.topics)

	var e Event
	require.NoError(t, json.Unmarshal(pub.bodies[0], &e))
	assert.Equal(t, PlaylistEvent(2), e)
}

func TestRedisLayer(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	sender := NewRedisLayer(rdb, "signage-test:")
	receiver := NewRedisLayer(rdb, "signage-test:")
	go func() { _ = receiver.Run(ctx) }()

	a := newMember("a", 4)
	require.NoError(t, receiver.Join(ctx, "power.7", a))

	// the relay subscribes asynchronously, keep sending until it is up
	var got Event
	require.Eventually(t, func() bool {
		_ = sender.SendToChannel(ctx, "power.7", PowerEvent(true))
		select {
		case got = <-a.out:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
	assert.Equal(t, PowerEvent(true), got)

	require.NoError(t, sender.SendToSession(ctx, "a", PowerEvent(false)))
	var types []string
	for len(types) == 0 || types[len(types)-1] != PowerOff {
		select {
		case e := <-a.out:
			types = append(types, e.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("session event not relayed")
		}
	}
	sort.Strings(types)
	assert.Contains(t, types, PowerOff)
}
