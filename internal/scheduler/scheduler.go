// Package scheduler keeps one timer per schedule and power entity. When a timer
// fires the entity is resolved again, its state is broadcast to its channel and the
// timer is armed for the next transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/broadcast"
	"github.com/Nixie-Tech-LLC/signage/internal/control"
	"github.com/Nixie-Tech-LLC/signage/internal/db"
	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/resolver"
)

type Kind string

const (
	KindSchedule Kind = "schedule"
	KindPower    Kind = "power"
)

// Store is the read side the service needs.
type Store interface {
	GetSchedule(ctx context.Context, id int) (model.Schedule, error)
	GetPower(ctx context.Context, id int) (model.Power, error)
	ListScheduleIDs(ctx context.Context) ([]int, error)
	ListPowerIDs(ctx context.Context) ([]int, error)
	DeleteExpiredScheduleItems(ctx context.Context, before time.Time) (int64, error)
}

type Options struct {
	Location     *time.Location
	MisfireGrace time.Duration
	RetryDelay   time.Duration
	// CleanupSpec is a cron expression, empty disables the cleanup job.
	CleanupSpec string
	Retention   time.Duration
	Clock       Clock
}

type key struct {
	kind Kind
	id   int
}

func (k key) channel() string {
	if k.kind == KindPower {
		return model.PowerChannel(k.id)
	}
	return model.ScheduleChannel(k.id)
}

type request struct {
	key   key
	reply chan time.Time
}

type fire struct {
	key key
	gen uint64
	at  time.Time
}

type result struct {
	key     key
	gen     uint64
	event   broadcast.Event
	next    time.Time
	hasNext bool
	err     error
}

type entry struct {
	timer Timer
	at    time.Time
}

type Service struct {
	store Store
	layer broadcast.Layer
	bus   control.Bus
	opts  Options

	publish chan key
	inspect chan request
	fires   chan fire
	results chan result

	lastPing atomic.Int64
}

func New(store Store, layer broadcast.Layer, bus control.Bus, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	return &Service{
		store:   store,
		layer:   layer,
		bus:     bus,
		opts:    opts,
		publish: make(chan key, 64),
		inspect: make(chan request),
		fires:   make(chan fire, 64),
		results: make(chan result, 64),
	}
}

// Publish asks the service to drop the entity's timer, resolve it again and
// broadcast the result.
func (s *Service) Publish(ctx context.Context, kind Kind, id int) error {
	select {
	case s.publish <- key{kind, id}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the entity's timer fires. It returns false for dormant entities.
func (s *Service) Next(ctx context.Context, kind Kind, id int) (time.Time, bool) {
	req := request{key: key{kind, id}, reply: make(chan time.Time, 1)}
	select {
	case s.inspect <- req:
	case <-ctx.Done():
		return time.Time{}, false
	}
	select {
	case at := <-req.reply:
		return at, !at.IsZero()
	case <-ctx.Done():
		return time.Time{}, false
	}
}

// LastPing is when the last ping arrived on the control bus.
func (s *Service) LastPing() time.Time {
	ns := s.lastPing.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Handle processes one control message. Malformed and unknown messages are logged.
func (s *Service) Handle(ctx context.Context, m control.Message) {
	if err := m.Validate(); err != nil {
		log.Error().Err(err).Str("type", m.Type).Msg("ignoring control message")
		return
	}
	var err error
	switch m.Type {
	case control.TypeSchedule:
		err = s.Publish(ctx, KindSchedule, m.Schedule)
	case control.TypePower:
		err = s.Publish(ctx, KindPower, m.Power)
	case control.TypePing:
		s.lastPing.Store(s.opts.Clock.Now().UnixNano())
		log.Debug().Msg("pong")
	}
	if err != nil {
		log.Warn().Err(err).Str("type", m.Type).Msg("control message not handled")
	}
}

// Listen feeds control messages into the service until ctx is done.
func (s *Service) Listen(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return nil
	}
	return s.bus.Receive(ctx, s.Handle)
}

// Run owns all timers. It resolves every entity once, broadcasting the current
// state, and then serves publish requests and timer fires until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	keys, err := s.entities(ctx)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	entries := map[key]*entry{}
	gens := map[key]uint64{}
	defer func() {
		for _, e := range entries {
			e.timer.Stop()
		}
	}()

	stopCleanup := s.startCleanup(ctx)
	defer stopCleanup()

	for _, k := range keys {
		gens[k]++
		go s.evaluate(ctx, k, gens[k], s.opts.Clock.Now())
	}
	log.Info().Int("entities", len(keys)).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return nil

		case k := <-s.publish:
			if e, ok := entries[k]; ok {
				e.timer.Stop()
				delete(entries, k)
			}
			gens[k]++
			log.Debug().Str("kind", string(k.kind)).Int("id", k.id).Uint64("gen", gens[k]).Msg("publish")
			go s.evaluate(ctx, k, gens[k], s.opts.Clock.Now())

		case req := <-s.inspect:
			var at time.Time
			if e, ok := entries[req.key]; ok {
				at = e.at
			}
			req.reply <- at

		case f := <-s.fires:
			if gens[f.key] != f.gen {
				// superseded by a publish after the timer started firing
				continue
			}
			delete(entries, f.key)
			at := f.at
			if now := s.opts.Clock.Now(); now.After(at) {
				if late := now.Sub(at); late > s.opts.MisfireGrace {
					log.Warn().Str("kind", string(f.key.kind)).Int("id", f.key.id).Dur("late", late).Msg("timer misfired")
				}
				at = now
			}
			go s.evaluate(ctx, f.key, f.gen, at)

		case r := <-s.results:
			if gens[r.key] != r.gen {
				continue
			}
			if r.err != nil {
				if errors.Is(r.err, db.ErrNotFound) {
					log.Warn().Str("kind", string(r.key.kind)).Int("id", r.key.id).Msg("entity not found, dropping timer")
					continue
				}
				log.Error().Err(r.err).Str("kind", string(r.key.kind)).Int("id", r.key.id).Msg("resolve failed, retrying")
				entries[r.key] = s.arm(ctx, r.key, r.gen, s.opts.Clock.Now().Add(s.opts.RetryDelay))
				continue
			}

			s.announce(ctx, r.key, r.event)
			if !r.hasNext {
				log.Debug().Str("kind", string(r.key.kind)).Int("id", r.key.id).Msg("no further trigger")
				continue
			}
			entries[r.key] = s.arm(ctx, r.key, r.gen, r.next)
		}
	}
}

func (s *Service) entities(ctx context.Context) ([]key, error) {
	schedules, err := s.store.ListScheduleIDs(ctx)
	if err != nil {
		return nil, err
	}
	powers, err := s.store.ListPowerIDs(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]key, 0, len(schedules)+len(powers))
	for _, id := range schedules {
		keys = append(keys, key{KindSchedule, id})
	}
	for _, id := range powers {
		keys = append(keys, key{KindPower, id})
	}
	return keys, nil
}

func (s *Service) arm(ctx context.Context, k key, gen uint64, at time.Time) *entry {
	delay := at.Sub(s.opts.Clock.Now())
	if delay < 0 {
		delay = 0
	}
	t := s.opts.Clock.AfterFunc(delay, func() {
		select {
		case s.fires <- fire{key: k, gen: gen, at: at}:
		case <-ctx.Done():
		}
	})
	log.Debug().Str("kind", string(k.kind)).Int("id", k.id).Time("at", at).Msg("timer armed")
	return &entry{timer: t, at: at}
}

func (s *Service) evaluate(ctx context.Context, k key, gen uint64, at time.Time) {
	r := result{key: k, gen: gen}
	loc := s.opts.Location

	switch k.kind {
	case KindSchedule:
		sched, err := s.store.GetSchedule(ctx, k.id)
		if err != nil {
			r.err = err
			break
		}
		r.event = broadcast.PlaylistEvent(resolver.ActivePlaylist(sched, at, loc))
		r.next, r.hasNext = resolver.ScheduleTrigger(sched, at, loc)
	case KindPower:
		power, err := s.store.GetPower(ctx, k.id)
		if err != nil {
			r.err = err
			break
		}
		r.event = broadcast.PowerEvent(resolver.PowerState(power, at, loc))
		r.next, r.hasNext = resolver.PowerTrigger(power, at, loc)
	}

	select {
	case s.results <- r:
	case <-ctx.Done():
	}
}

func (s *Service) announce(ctx context.Context, k key, e broadcast.Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.layer.SendToChannel(ctx, k.channel(), e); err != nil {
		log.Error().Err(err).Str("channel", k.channel()).Msg("broadcast failed")
		return
	}
	log.Info().Str("channel", k.channel()).Str("type", e.Type).Int("playlist", e.Playlist).Msg("broadcast")
}
