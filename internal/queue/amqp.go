package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

// AMQPQueue publishes tasks to a durable RabbitMQ queue and consumes them in the worker binary.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
	log  zerolog.Logger

	mu sync.Mutex
}

func DialAMQP(url, name string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &AMQPQueue{
		conn: conn,
		ch:   ch,
		name: name,
		log:  log.With().Str("component", "amqp").Str("queue", name).Logger(),
	}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    t.EnqueuedAt,
		Body:         body,
	})
}

// Consume runs h for deliveries on up to workers goroutines until ctx is done or the
// channel closes. workers is also the prefetch count.
func (q *AMQPQueue) Consume(ctx context.Context, workers int, h Handler, onFailure FailureFunc) error {
	if workers <= 0 {
		workers = 1
	}
	if err := q.ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	msgs, err := q.ch.Consume(
		q.name,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.log.Info().Int("workers", workers).Msg("worker running, waiting for tasks")
	c := &consumer{handler: h, onFailure: onFailure, log: q.log}
	return c.serve(ctx, msgs, workers)
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// consumer runs deliveries through a handler. Every delivery is acked once whatever
// the outcome; a campaign is never redelivered.
type consumer struct {
	handler   Handler
	onFailure FailureFunc
	log       zerolog.Logger
}

func (c *consumer) serve(ctx context.Context, msgs <-chan amqp.Delivery, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-msgs:
					if !ok {
						return errDeliveriesClosed
					}
					c.handle(ctx, d, i)
				}
			}
		})
	}
	return g.Wait()
}

func (c *consumer) handle(ctx context.Context, d amqp.Delivery, idx int) {
	defer func() {
		if err := d.Ack(false); err != nil {
			c.log.Error().Err(err).Int("worker", idx).Msg("ack failed")
		}
	}()

	var t Task
	if err := json.Unmarshal(d.Body, &t); err != nil {
		c.log.Error().Err(err).Int("worker", idx).Msg("invalid task payload")
		return
	}
	if err := runHandler(ctx, c.handler, t, c.log, idx); err != nil {
		c.log.Error().Err(err).Int("worker", idx).Str("campaign_id", t.CampaignID).Msg("dispatch task failed")
		if c.onFailure != nil {
			c.onFailure(context.WithoutCancel(ctx), t, err)
		}
	}
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
