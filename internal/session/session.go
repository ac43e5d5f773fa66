// Package session runs the per-connection lifecycle of a display. Every display
// holds two connections: the power link, which follows the display's Power entity,
// and the frontend link, which follows its Schedule and receives rendered playlists.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Nixie-Tech-LLC/signage/internal/auth"
	"github.com/Nixie-Tech-LLC/signage/internal/broadcast"
	"github.com/Nixie-Tech-LLC/signage/internal/content"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/redis"
	"github.com/Nixie-Tech-LLC/signage/internal/resolver"
)

type Kind string

const (
	KindPower    Kind = "power"
	KindFrontend Kind = "frontend"
)

var (
	ErrDisplayUnknown  = errors.New("display unknown")
	ErrDisplayDisabled = errors.New("display disabled")
)

type State int32

const (
	Connecting State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Conn is the subset of *websocket.Conn a session uses. Only the session's writer
// calls WriteJSON.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type Store interface {
	GetDisplay(ctx context.Context, id string) (model.Display, error)
	SetDisplayKey(ctx context.Context, id string, key []byte) (bool, error)
	SetDisplayConnected(ctx context.Context, id string, at *time.Time) error
	SetDisplayConfig(ctx context.Context, id string, config []byte) error
	GetSchedule(ctx context.Context, id int) (model.Schedule, error)
	GetPower(ctx context.Context, id int) (model.Power, error)
}

type Renderer interface {
	Playlist(ctx context.Context, id int) (*content.PlaylistMessage, error)
}

type Screenshots interface {
	Put(ctx context.Context, displayID string, image []byte) error
}

// PowerMessage is sent on the power link.
type PowerMessage struct {
	Power bool    `json:"power"`
	Scale float64 `json:"scale"`
}

type Options struct {
	Location *time.Location
	Now      func() time.Time
	// Buffer bounds the events queued for one session before they are dropped.
	Buffer int
	// InboundRate limits how many client messages per second are processed.
	InboundRate  rate.Limit
	InboundBurst int
	// KeyGen creates a key for displays that have none, auth.GenerateKey by default.
	KeyGen func() ([]byte, error)
}

type Manager struct {
	store       Store
	layer       broadcast.Layer
	renderer    Renderer
	screenshots Screenshots
	opts        Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store Store, layer broadcast.Layer, renderer Renderer, screenshots Screenshots, opts Options) *Manager {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.InboundRate == 0 {
		opts.InboundRate = rate.Every(time.Second)
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 4
	}
	if opts.KeyGen == nil {
		opts.KeyGen = auth.GenerateKey
	}
	return &Manager{
		store:       store,
		layer:       layer,
		renderer:    renderer,
		screenshots: screenshots,
		opts:        opts,
		sessions:    map[string]*Session{},
	}
}

// Session is one live connection of a display.
type Session struct {
	id      string
	kind    Kind
	display model.Display
	events  chan broadcast.Event
	state   atomic.Int32
}

var _ broadcast.Member = (*Session)(nil)

func (s *Session) ID() string { return s.id }

func (s *Session) Kind() Kind { return s.kind }

func (s *Session) DisplayID() string { return s.display.ID }

func (s *Session) State() State { return State(s.state.Load()) }

// Deliver queues an event without blocking.
func (s *Session) Deliver(e broadcast.Event) bool {
	if s.State() == Closed {
		return false
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

// Sessions returns the sessions currently held for a display.
func (m *Manager) Sessions(displayID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.display.ID == displayID {
			out = append(out, s)
		}
	}
	return out
}

// Serve drives the connection until the client goes away, a write fails or ctx is
// done. It always closes conn. Errors are only returned for rejected connections.
func (m *Manager) Serve(ctx context.Context, kind Kind, displayID string, conn Conn) error {
	defer conn.Close()

	s, err := m.connect(ctx, kind, displayID)
	if err != nil {
		log.Warn().Err(err).Str("display_id", displayID).Str("kind", string(kind)).Msg("rejecting display connection")
		return err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	defer m.close(s)

	if err := m.activate(ctx, s, conn); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("could not activate session")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		m.read(ctx, s, conn)
	}()

	m.write(ctx, s, conn)
	return nil
}

func (m *Manager) connect(ctx context.Context, kind Kind, displayID string) (*Session, error) {
	d, err := m.store.GetDisplay(ctx, displayID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrDisplayUnknown
	}
	if err != nil {
		return nil, err
	}
	if !d.Enabled {
		return nil, ErrDisplayDisabled
	}
	if len(d.Key) == 0 {
		m.provisionKey(ctx, &d)
	}

	s := &Session{
		id:      uuid.NewString(),
		kind:    kind,
		display: d,
		events:  make(chan broadcast.Event, m.opts.Buffer),
	}
	s.state.Store(int32(Connecting))
	return s, nil
}

func (m *Manager) provisionKey(ctx context.Context, d *model.Display) {
	key, err := m.opts.KeyGen()
	if err != nil {
		log.Error().Err(err).Str("display_id", d.ID).Msg("key generation failed")
		return
	}
	stored, err := m.store.SetDisplayKey(ctx, d.ID, key)
	if err != nil || !stored {
		return
	}
	d.Key = key
	fp, _ := auth.Fingerprint(key)
	log.Info().Str("display_id", d.ID).Str("fingerprint", fp).Msg("generated display key")
}

// activate joins the entity channel first and then sends the state as of now, so
// an update broadcast in between is queued rather than lost.
func (m *Manager) activate(ctx context.Context, s *Session, conn Conn) error {
	s.state.Store(int32(Active))
	d := s.display
	log.Info().Str("display_id", d.ID).Str("kind", string(s.kind)).Str("session", s.id).Msg("display connected")

	switch s.kind {
	case KindFrontend:
		now := m.opts.Now()
		if err := m.store.SetDisplayConnected(ctx, d.ID, &now); err != nil {
			log.Warn().Err(err).Str("display_id", d.ID).Msg("could not record connection")
		}
		if d.ScheduleID == nil {
			return nil
		}
		if err := m.layer.Join(ctx, model.ScheduleChannel(*d.ScheduleID), s); err != nil {
			return err
		}
		sched, err := m.store.GetSchedule(ctx, *d.ScheduleID)
		if err != nil {
			return err
		}
		id := resolver.ActivePlaylist(sched, now, m.opts.Location)
		return m.sendPlaylist(ctx, s, conn, id)

	case KindPower:
		if d.PowerID == nil {
			return conn.WriteJSON(PowerMessage{Power: true, Scale: d.Scale})
		}
		if err := m.layer.Join(ctx, model.PowerChannel(*d.PowerID), s); err != nil {
			return err
		}
		p, err := m.store.GetPower(ctx, *d.PowerID)
		if err != nil {
			return err
		}
		on := resolver.PowerState(p, m.opts.Now(), m.opts.Location)
		return conn.WriteJSON(PowerMessage{Power: on, Scale: d.Scale})
	}
	return fmt.Errorf("unknown session kind %q", s.kind)
}

func (m *Manager) sendPlaylist(ctx context.Context, s *Session, conn Conn, id int) error {
	if id == 0 {
		log.Debug().Str("display_id", s.display.ID).Msg("no playlist to show")
		return nil
	}
	msg, err := m.renderer.Playlist(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn().Int("playlist_id", id).Str("display_id", s.display.ID).Msg("playlist not found")
		return nil
	}
	if err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (m *Manager) write(ctx context.Context, s *Session, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.events:
			var err error
			switch e.Type {
			case broadcast.PlaylistUpdate:
				err = m.sendPlaylist(ctx, s, conn, e.Playlist)
			case broadcast.PowerOn, broadcast.PowerOff:
				err = conn.WriteJSON(PowerMessage{Power: e.Type == broadcast.PowerOn, Scale: s.display.Scale})
			default:
				log.Warn().Str("type", e.Type).Str("session", s.id).Msg("unknown event")
			}
			if err != nil {
				log.Info().Err(err).Str("session", s.id).Msg("write failed, closing session")
				return
			}
		}
	}
}

func (m *Manager) read(ctx context.Context, s *Session, conn Conn) {
	limiter := rate.NewLimiter(m.opts.InboundRate, m.opts.InboundBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session", s.id).Msg("read ended")
			return
		}
		if !limiter.Allow() {
			log.Debug().Str("session", s.id).Msg("inbound message dropped, rate exceeded")
			continue
		}
		m.receive(ctx, s, data)
	}
}

// receive applies what the display reported. A field that fails to decode is
// skipped and the connection stays open.
func (m *Manager) receive(ctx context.Context, s *Session, data []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		log.Warn().Err(err).Str("display_id", s.display.ID).Msg("undecodable client message")
		return
	}

	if raw, ok := fields["config"]; ok && string(raw) != "null" {
		if err := m.store.SetDisplayConfig(ctx, s.display.ID, raw); err != nil {
			log.Warn().Err(err).Str("display_id", s.display.ID).Msg("config not stored")
		}
	}

	if raw, ok := fields["screenshot"]; ok && m.screenshots != nil {
		var payload string
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Warn().Err(err).Str("display_id", s.display.ID).Msg("skipping screenshot")
			return
		}
		img, err := redis.DecodeScreenshot(payload)
		if err != nil {
			log.Warn().Err(err).Str("display_id", s.display.ID).Msg("skipping screenshot")
			return
		}
		if err := m.screenshots.Put(ctx, s.display.ID, img); err != nil {
			log.Warn().Err(err).Str("display_id", s.display.ID).Msg("screenshot not cached")
		}
	}
}

func (m *Manager) close(s *Session) {
	s.state.Store(int32(Closed))

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	// the serving context may already be gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.layer.LeaveAll(ctx, s); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("leave failed")
	}
	if s.kind == KindFrontend {
		if err := m.store.SetDisplayConnected(ctx, s.display.ID, nil); err != nil {
			log.Warn().Err(err).Str("display_id", s.display.ID).Msg("could not clear connection")
		}
	}
	log.Info().Str("display_id", s.display.ID).Str("kind", string(s.kind)).Str("session", s.id).Msg("display disconnected")
}
