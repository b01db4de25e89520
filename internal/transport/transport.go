package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/retry"
)

// ErrTransient marks failures worth retrying (timeouts, broker or gateway hiccups).
var ErrTransient = errors.New("transient transport failure")

// Transport is the chat gateway as seen by the relay. Send methods return the id of the
// message created in the room. replyTo of 0 sends a standalone message.
type Transport interface {
	SendText(ctx context.Context, roomID int64, text string, replyTo int64) (int64, error)
	SendMedia(ctx context.Context, roomID int64, handle, caption string, replyTo int64) (int64, error)
	EditControls(ctx context.Context, roomID, messageID int64, controls []domain.Control) error
}

// Handler processes one inbound chat event.
type Handler func(ctx context.Context, msg domain.Message) error

// Retrying retries transient failures of the wrapped transport.
type Retrying struct {
	next   Transport
	policy retry.Policy
}

func NewRetrying(next Transport, policy retry.Policy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool { return errors.Is(err, ErrTransient) }
	}
	if policy.Logger == nil {
		policy.Logger = logger.With("component", "transport")
	}
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) SendText(ctx context.Context, roomID int64, text string, replyTo int64) (int64, error) {
	var id int64
	err := retry.Do(ctx, r.policy, "send_text", func(ctx context.Context) error {
		var err error
		id, err = r.next.SendText(ctx, roomID, text, replyTo)
		return err
	})
	return id, err
}

func (r *Retrying) SendMedia(ctx context.Context, roomID int64, handle, caption string, replyTo int64) (int64, error) {
	var id int64
	err := retry.Do(ctx, r.policy, "send_media", func(ctx context.Context) error {
		var err error
		id, err = r.next.SendMedia(ctx, roomID, handle, caption, replyTo)
		return err
	})
	return id, err
}

func (r *Retrying) EditControls(ctx context.Context, roomID, messageID int64, controls []domain.Control) error {
	return retry.Do(ctx, r.policy, "edit_controls", func(ctx context.Context) error {
		return r.next.EditControls(ctx, roomID, messageID, controls)
	})
}
