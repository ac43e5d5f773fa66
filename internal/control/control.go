// Package control carries publish requests from the admin API to the scheduler.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	TypeSchedule = "schedule"
	TypePower    = "power"
	TypePing     = "ping"
)

var ErrMalformed = errors.New("malformed control message")

type Message struct {
	Type     string `json:"type"`
	Schedule int    `json:"schedule,omitempty"`
	Power    int    `json:"power,omitempty"`
}

func PublishSchedule(id int) Message { return Message{Type: TypeSchedule, Schedule: id} }
func PublishPower(id int) Message    { return Message{Type: TypePower, Power: id} }
func Ping() Message                  { return Message{Type: TypePing} }

// Validate rejects messages without a known type or without the ID their type needs.
func (m Message) Validate() error {
	switch m.Type {
	case TypeSchedule:
		if m.Schedule <= 0 {
			return fmt.Errorf("%w: schedule message without schedule id", ErrMalformed)
		}
	case TypePower:
		if m.Power <= 0 {
			return fmt.Errorf("%w: power message without power id", ErrMalformed)
		}
	case TypePing:
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrMalformed, m.Type)
	}
	return nil
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// Handler processes one decoded message.
type Handler func(ctx context.Context, m Message)

// Bus is a point-to-point queue between publishers and the single scheduler.
type Bus interface {
	Send(ctx context.Context, m Message) error
	// Receive blocks until ctx is done and hands every message to h. Payloads that
	// are not JSON are logged and dropped.
	Receive(ctx context.Context, h Handler) error
}

func dispatch(ctx context.Context, payload []byte, h Handler) bool {
	m, err := Decode(payload)
	if err != nil {
		log.Error().Err(err).Bytes("payload", payload).Msg("dropping control message")
		return false
	}
	h(ctx, m)
	return true
}

// Memory is an in-process Bus used when the scheduler runs inside the API server.
type Memory struct {
	ch chan []byte
}

var _ Bus = (*Memory)(nil)

func NewMemory(buffer int) *Memory {
	return &Memory{ch: make(chan []byte, buffer)}
}

func (b *Memory) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.SendRaw(ctx, payload)
}

// SendRaw enqueues an already encoded payload.
func (b *Memory) SendRaw(ctx context.Context, payload []byte) error {
	select {
	case b.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Memory) Receive(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-b.ch:
			dispatch(ctx, payload, h)
		}
	}
}
