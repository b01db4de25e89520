package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/models"
	"github.com/rabbitmq/amqp091-go"
)

const handlerTimeout = 2 * time.Minute

// Consumer feeds inbound chat events from a queue to a pool of workers.
type Consumer struct {
	ch       *amqp091.Channel
	exchange string
	queue    string
	workers  int
	log      *slog.Logger
}

func NewConsumer(conn *amqp091.Connection, exchange, queue string, workers int, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if workers < 1 {
		workers = 1
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	return &Consumer{
		ch:       ch,
		exchange: exchange,
		queue:    queue,
		workers:  workers,
		log:      logger.With("component", "consumer"),
	}, nil
}

func (c *Consumer) setupQueue() (<-chan amqp091.Delivery, error) {
	if err := c.ch.Qos(c.workers*2, 0, false); err != nil {
		return nil, err
	}
	q, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := c.ch.QueueBind(q.Name, "#", c.exchange, false, nil); err != nil {
		return nil, err
	}
	return c.ch.Consume(q.Name, "", false, false, false, false, nil)
}

// Run consumes until ctx is cancelled or the channel closes, then waits for in-flight events.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.setupQueue()
	if err != nil {
		return fmt.Errorf("setup queue %s: %w", c.queue, err)
	}
	c.log.Info("consumer started", slog.String("queue", c.queue), slog.Int("workers", c.workers))

	work := make(chan amqp091.Delivery, c.workers)
	var wg sync.WaitGroup
	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				c.process(ctx, d, handle)
			}
		}()
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-msgs:
			if !ok {
				runErr = errors.New("delivery channel closed")
				break loop
			}
			work <- d
		}
	}
	close(work)
	wg.Wait()
	_ = c.ch.Close()
	c.log.Info("consumer stopped", slog.String("queue", c.queue))
	return runErr
}

func (c *Consumer) process(ctx context.Context, d amqp091.Delivery, handle Handler) {
	var ev models.InboundEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Error("malformed inbound event", slog.String("message_id", d.MessageId), slog.Any("error", err))
		_ = d.Nack(false, false)
		return
	}

	// handlers finish even when shutdown has begun
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
	err := handle(hctx, ev.Message)
	cancel()
	if err != nil {
		c.log.Error("handler error",
			slog.String("event_id", ev.ID),
			slog.Int64("room_id", ev.Message.RoomID),
			slog.Int64("message_id", ev.Message.MessageID),
			slog.Any("error", err),
		)
		// events are not replayed; a claim is not idempotent
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
