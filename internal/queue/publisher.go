package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

// ResultPublisher emits completed sample batches to the result queue.
// It owns the queue's declaration and binding; the queue name doubles
// as the routing key.
type ResultPublisher struct {
	pub        *Publisher
	routingKey string
}

func NewResultPublisher(pub *Publisher, queue string) (*ResultPublisher, error) {
	if _, err := pub.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare result queue: %w", err)
	}
	if err := pub.channel.QueueBind(queue, queue, pub.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind result queue: %w", err)
	}
	return &ResultPublisher{pub: pub, routingKey: queue}, nil
}

func (rp *ResultPublisher) PublishResult(ctx context.Context, msg []byte) error {
	return rp.pub.channel.PublishWithContext(ctx,
		rp.pub.exchange,
		rp.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

// DLQPublisher parks poison messages on the dead-letter queue with the
// rejection reason attached.
type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return dp.pub.channel.PublishWithContext(ctx,
		"",
		dp.queue,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers: amqp.Table{
				"x-dlq-reason": reason,
			},
		},
	)
}
