// Package broadcast fans entity updates out to the display sessions that joined the
// entity's channel. Delivery is best effort: a session that is slow or currently
// disconnecting may miss an event and recovers by resolving state on reconnect.
package broadcast

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	PlaylistUpdate = "playlist.update"
	PowerOn        = "power.on"
	PowerOff       = "power.off"
)

// Event is what the scheduler pushes into a channel.
type Event struct {
	Type     string `json:"type"`
	Playlist int    `json:"playlist,omitempty"`
}

func PlaylistEvent(id int) Event {
	return Event{Type: PlaylistUpdate, Playlist: id}
}

func PowerEvent(on bool) Event {
	if on {
		return Event{Type: PowerOn}
	}
	return Event{Type: PowerOff}
}

// Member is a session that can join channels. Deliver must not block and reports
// whether the event was accepted.
type Member interface {
	ID() string
	Deliver(e Event) bool
}

type Layer interface {
	Join(ctx context.Context, channel string, m Member) error
	Leave(ctx context.Context, channel string, m Member) error
	LeaveAll(ctx context.Context, m Member) error
	SendToChannel(ctx context.Context, channel string, e Event) error
	SendToSession(ctx context.Context, sessionID string, e Event) error
}

// Hub is the in-process Layer.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[string]Member
	joined  map[string]map[string]bool
	members map[string]Member
}

var _ Layer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		groups:  map[string]map[string]Member{},
		joined:  map[string]map[string]bool{},
		members: map[string]Member{},
	}
}

func (h *Hub) Join(_ context.Context, channel string, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[channel]
	if !ok {
		g = map[string]Member{}
		h.groups[channel] = g
	}
	g[m.ID()] = m

	if h.joined[m.ID()] == nil {
		h.joined[m.ID()] = map[string]bool{}
	}
	h.joined[m.ID()][channel] = true
	h.members[m.ID()] = m
	return nil
}

func (h *Hub) Leave(_ context.Context, channel string, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(channel, m.ID())
	return nil
}

func (h *Hub) leave(channel, id string) {
	if g, ok := h.groups[channel]; ok {
		delete(g, id)
		if len(g) == 0 {
			delete(h.groups, channel)
		}
	}
	if chans, ok := h.joined[id]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.joined, id)
			delete(h.members, id)
		}
	}
}

func (h *Hub) LeaveAll(_ context.Context, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.joined[m.ID()] {
		h.leave(channel, m.ID())
	}
	return nil
}

// Channels lists the channels a session currently belongs to.
func (h *Hub) Channels(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[sessionID]))
	for c := range h.joined[sessionID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) SendToChannel(_ context.Context, channel string, e Event) error {
	h.deliverChannel(channel, e)
	return nil
}

func (h *Hub) SendToSession(_ context.Context, sessionID string, e Event) error {
	h.deliverSession(sessionID, e)
	return nil
}

func (h *Hub) deliverChannel(channel string, e Event) int {
	// snapshot so slow members never run under the lock
	h.mu.RLock()
	members := make([]Member, 0, len(h.groups[channel]))
	for _, m := range h.groups[channel] {
		members = append(members, m)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if m.Deliver(e) {
			delivered++
		} else {
			log.Warn().Str("channel", channel).Str("session", m.ID()).Str("type", e.Type).Msg("dropped event for slow session")
		}
	}
	return delivered
}

func (h *Hub) deliverSession(sessionID string, e Event) bool {
	h.mu.RLock()
	m, ok := h.members[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return m.Deliver(e)
}
