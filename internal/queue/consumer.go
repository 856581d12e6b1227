package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tracklab/framesampler/internal/config"
)

// MessageHandler processes one delivery body. A non-nil error nacks and
// requeues the message after a backoff.
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer runs a pool of workers over one AMQP queue.
type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queue       string
	workerCount int
	baseDelay   time.Duration
	handler     MessageHandler
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewConsumer dials the broker and sets up the request side of the
// topology: the exchange, the request queue bound under its own name,
// and the DLQ. The result queue belongs to ResultPublisher.
func NewConsumer(cfg *config.Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	for _, q := range []string{cfg.RequestQueue, cfg.DLQ} {
		if _, err = ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	if err = ch.QueueBind(cfg.RequestQueue, cfg.RequestQueue, cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind request queue: %w", err)
	}

	if err = ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       cfg.RequestQueue,
		workerCount: cfg.WorkerCount,
		baseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		handler:     handler,
		logger:      logger,
	}, nil
}

// Start consumes until ctx is cancelled, then waits for the workers.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue,
		"",
		false, // autoAck=false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("starting worker pool", "workers", c.workerCount, "queue", c.queue)

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("context cancelled, waiting for workers to finish")
	c.wg.Wait()
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With("worker_id", id)
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.processDelivery(ctx, d, log)
		}
	}
}

func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery, log *slog.Logger) {
	err := c.handler(ctx, d.Body)
	if err != nil {
		log.Warn("message processing failed, nacking", "err", err, "delivery_tag", d.DeliveryTag)

		attempt := c.getAttemptFromHeaders(d)
		delay := c.calculateBackoff(attempt)
		log.Info("backoff before requeue", "delay", delay, "attempt", attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			_ = d.Nack(false, false)
			return
		}

		_ = d.Nack(false, true) // requeue=true
		return
	}

	_ = d.Ack(false)
}

func (c *Consumer) getAttemptFromHeaders(d amqp.Delivery) int {
	if d.Headers == nil {
		return 1
	}
	if xDeath, ok := d.Headers["x-death"]; ok {
		if deaths, ok := xDeath.([]interface{}); ok && len(deaths) > 0 {
			return len(deaths)
		}
	}
	return 1
}

func (c *Consumer) calculateBackoff(attempt int) time.Duration {
	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
