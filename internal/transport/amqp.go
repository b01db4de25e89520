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

	"github.com/google/uuid"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/models"
	"github.com/punchamoorthee/claimrelay/internal/retry"
	"github.com/rabbitmq/amqp091-go"
)

const directReplyTo = "amq.rabbitmq.reply-to"

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// Dial connects to the broker, backing off between attempts until ctx is cancelled.
func Dial(ctx context.Context, opts ConnectionOptions) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	policy := retry.Policy{Attempts: opts.RetryAttempts, Delay: opts.Delay, Factor: 2, Logger: opts.Logger}
	err := retry.Do(ctx, policy, "amqp_dial", func(context.Context) error {
		c, err := amqp091.Dial(opts.URL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// Client sends outbound commands to the chat gateway as RPCs over direct reply-to.
type Client struct {
	ch       *amqp091.Channel
	exchange string
	timeout  time.Duration
	log      *slog.Logger

	pubMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan models.OutboundResult

	done chan struct{}
	wg   sync.WaitGroup
}

func NewClient(conn *amqp091.Connection, exchange string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	// direct reply-to must be consumed in no-ack mode on the publishing channel
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	c := &Client{
		ch:       ch,
		exchange: exchange,
		timeout:  timeout,
		log:      logger.With("component", "gateway_client"),
		pending:  make(map[string]chan models.OutboundResult),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.demux(replies)
	return c, nil
}

func (c *Client) demux(replies <-chan amqp091.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case d, ok := <-replies:
			if !ok {
				c.failPending("reply channel closed")
				return
			}
			var res models.OutboundResult
			if err := json.Unmarshal(d.Body, &res); err != nil {
				c.log.Error("malformed gateway reply", slog.String("correlation_id", d.CorrelationId), slog.Any("error", err))
				continue
			}
			c.mu.Lock()
			wait, ok := c.pending[d.CorrelationId]
			delete(c.pending, d.CorrelationId)
			c.mu.Unlock()
			if !ok {
				c.log.Warn("late gateway reply", slog.String("correlation_id", d.CorrelationId))
				continue
			}
			wait <- res
		}
	}
}

func (c *Client) failPending(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, wait := range c.pending {
		wait <- models.OutboundResult{Error: reason, Retryable: true}
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, cmd models.OutboundCommand) (models.OutboundResult, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return models.OutboundResult{}, err
	}

	id := uuid.NewString()
	wait := make(chan models.OutboundResult, 1)
	c.mu.Lock()
	c.pending[id] = wait
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	c.pubMu.Lock()
	err = c.ch.PublishWithContext(ctx, c.exchange, "outbound."+string(cmd.Op), false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			MessageId:     uuid.NewString(),
			CorrelationId: id,
			ReplyTo:       directReplyTo,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	c.pubMu.Unlock()
	if err != nil {
		forget()
		return models.OutboundResult{}, fmt.Errorf("%w: publish %s: %v", ErrTransient, cmd.Op, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case res := <-wait:
		if res.Error == "" {
			return res, nil
		}
		if res.Retryable {
			return res, fmt.Errorf("%w: %s", ErrTransient, res.Error)
		}
		return res, fmt.Errorf("gateway rejected %s: %s", cmd.Op, res.Error)
	case <-timer.C:
		forget()
		return models.OutboundResult{}, fmt.Errorf("%w: %s timed out after %s", ErrTransient, cmd.Op, c.timeout)
	case <-ctx.Done():
		forget()
		return models.OutboundResult{}, ctx.Err()
	}
}

func (c *Client) SendText(ctx context.Context, roomID int64, text string, replyTo int64) (int64, error) {
	res, err := c.call(ctx, models.OutboundCommand{Op: models.OpSendText, RoomID: roomID, Text: text, ReplyTo: replyTo})
	return res.MessageID, err
}

func (c *Client) SendMedia(ctx context.Context, roomID int64, handle, caption string, replyTo int64) (int64, error) {
	res, err := c.call(ctx, models.OutboundCommand{
		Op: models.OpSendMedia, RoomID: roomID, Handle: handle, Caption: caption, ReplyTo: replyTo,
	})
	return res.MessageID, err
}

func (c *Client) EditControls(ctx context.Context, roomID, messageID int64, controls []domain.Control) error {
	_, err := c.call(ctx, models.OutboundCommand{
		Op: models.OpEditControls, RoomID: roomID, MessageID: messageID, Controls: controls,
	})
	return err
}

func (c *Client) Close() error {
	close(c.done)
	err := c.ch.Close()
	c.wg.Wait()
	c.failPending("client closed")
	if errors.Is(err, amqp091.ErrClosed) {
		return nil
	}
	return err
}
