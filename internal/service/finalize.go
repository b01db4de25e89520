package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/claimrelay/internal/classifier"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/store"
)

const (
	pathReply    = "reply"
	pathLoose    = "loose"
	pathButton   = "button"
	pathApproval = "approval"
)

// HandleTargetMessage classifies a Target-room message and acts on the decision.
func (r *Relay) HandleTargetMessage(ctx context.Context, msg domain.Message) error {
	in := classifier.Input{RoomID: msg.RoomID, SenderID: msg.SenderID, Text: msg.Text}
	if msg.IsReply() {
		in.ReplyToMessageID = msg.ReplyTo.MessageID
	}
	d := r.cls.Classify(in)
	classificationsTotal.WithLabelValues(d.Kind.String()).Inc()

	switch d.Kind {
	case classifier.ExactMatch:
		path := pathReply
		if d.Loose {
			path = pathLoose
		}
		err := r.finalize(ctx, d.Record, d.Response, path)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, correlation.ErrNotFound):
			r.log.Debug("reply to finished exchange ignored", slog.String("asset_id", d.Record.AssetID))
			return nil
		case errors.Is(err, ErrRelayFailed):
			// committed locally; the failure is already logged
			return nil
		default:
			return err
		}
	case classifier.SilentMismatch:
		r.log.Debug("group number reply ignored",
			slog.String("asset_id", d.Record.AssetID),
			slog.Int64("message_id", msg.MessageID),
		)
		return nil
	case classifier.CustomAmount:
		if !d.Authorized {
			return nil
		}
		return r.RequestApproval(ctx, msg, d.Record, d.Number)
	default:
		return nil
	}
}

// finalize commits the answer of an exchange exactly once: the exchange is resolved, the
// response recorded and the asset reopened, then the answer is relayed to the Source
// room if forwarding is on. A relay failure does not undo the commit.
func (r *Relay) finalize(ctx context.Context, rec domain.CorrelationRecord, text, path string) error {
	unlock := r.finalizing.Lock(rec.AssetID)
	defer unlock()

	// 1. Still the same open exchange
	current, ok := r.corr.Get(rec.AssetID)
	if !ok {
		return fmt.Errorf("%w: %s", correlation.ErrNotFound, rec.AssetID)
	}
	if !current.Open() || current.Seq != rec.Seq {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, rec.AssetID)
	}
	if !r.corr.MarkResolved(ctx, rec.AssetID, rec.Seq) {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, rec.AssetID)
	}

	// 2. Response and asset state
	r.responses.Put(ctx, rec.AssetID, text)
	if err := r.assets.SetStatus(ctx, rec.AssetID, domain.StatusOpen); err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			r.log.Warn("finalized asset no longer exists", slog.String("asset_id", rec.AssetID))
		} else {
			r.log.Error("reopen asset failed", slog.String("asset_id", rec.AssetID), slog.Any("error", err))
		}
	}
	finalizationsTotal.WithLabelValues(path).Inc()
	r.log.Info("exchange finalized",
		slog.String("asset_id", rec.AssetID),
		slog.String("path", path),
		slog.String("response", text),
	)

	// 3. Relay
	if !r.rooms.Forwarding() {
		r.log.Info("forwarding disabled, answer not relayed", slog.String("asset_id", rec.AssetID))
		return nil
	}
	if _, err := r.tr.SendText(ctx, current.SourceRoomID, text, current.RelayReplyTo()); err != nil {
		relayFailuresTotal.Inc()
		r.log.Error("relay to source room failed",
			slog.String("asset_id", rec.AssetID),
			slog.Int64("room_id", current.SourceRoomID),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}
	return nil
}
