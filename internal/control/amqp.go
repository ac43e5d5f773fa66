package control

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// AMQP publishes to a durable queue through the default exchange.
type AMQP struct {
	ch    *amqp.Channel
	queue string
}

var _ Bus = (*AMQP)(nil)

func NewAMQP(conn *amqp.Connection, queue string) (*AMQP, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto delete
		false, // exclusive
		false, // no wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQP{ch: ch, queue: queue}, nil
}

func (b *AMQP) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

func (b *AMQP) Receive(ctx context.Context, h Handler) error {
	msgs, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer for %s closed", b.queue)
			}
			if !dispatch(ctx, d.Body, h) {
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				log.Warn().Err(err).Msg("control message ack failed")
			}
		}
	}
}

func (b *AMQP) Close() error {
	return b.ch.Close()
}
