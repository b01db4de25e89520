package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/punchamoorthee/claimrelay/internal/classifier"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
)

const (
	plusPrefix   = "plus_"
	verifyPrefix = "verify_"
)

// HandleCallback handles presses of the confirm controls on a claim notice.
func (r *Relay) HandleCallback(ctx context.Context, msg domain.Message) error {
	cb := msg.Callback
	switch {
	case strings.HasPrefix(cb.Data, plusPrefix):
		return r.offerAmounts(ctx, msg.RoomID, cb, strings.TrimPrefix(cb.Data, plusPrefix))
	case strings.HasPrefix(cb.Data, verifyPrefix):
		rest := strings.TrimPrefix(cb.Data, verifyPrefix)
		i := strings.LastIndexByte(rest, '_')
		if i <= 0 || i == len(rest)-1 {
			r.log.Warn("malformed verify control", slog.String("data", cb.Data))
			return nil
		}
		return r.verify(ctx, msg.RoomID, cb, rest[:i], rest[i+1:])
	default:
		return nil
	}
}

func (r *Relay) offerAmounts(ctx context.Context, roomID int64, cb *domain.Callback, assetID string) error {
	rec, ok := r.corr.Get(assetID)
	if !ok || !rec.Open() || rec.TargetRoomID != roomID {
		return nil
	}
	controls := []domain.Control{
		{Label: "+" + rec.ClaimedAmount, Data: verifyPrefix + assetID + "_" + rec.ClaimedAmount},
		{Label: "+0", Data: verifyPrefix + assetID + "_0"},
	}
	if err := r.tr.EditControls(ctx, roomID, cb.MessageID, controls); err != nil {
		return fmt.Errorf("offer amounts for %s: %w", assetID, err)
	}
	if _, err := r.tr.SendText(ctx, roomID, fmt.Sprintf("请确认金额: +%s 或 +0（如果会员未进群）", rec.ClaimedAmount), cb.MessageID); err != nil {
		r.log.Warn("amount prompt failed", slog.String("asset_id", assetID), slog.Any("error", err))
	}
	return nil
}

func (r *Relay) verify(ctx context.Context, roomID int64, cb *domain.Callback, assetID, amount string) error {
	rec, ok := r.corr.Get(assetID)
	if !ok || rec.TargetRoomID != roomID {
		return nil
	}
	err := r.finalize(ctx, rec, classifier.ResponseFor(amount), pathButton)
	if errors.Is(err, ErrAlreadyFinalized) || errors.Is(err, correlation.ErrNotFound) {
		return nil
	}

	if cerr := r.tr.EditControls(ctx, roomID, cb.MessageID, nil); cerr != nil {
		r.log.Warn("clear controls failed", slog.String("asset_id", assetID), slog.Any("error", cerr))
	}
	if errors.Is(err, ErrRelayFailed) {
		if _, serr := r.tr.SendText(ctx, roomID, fmt.Sprintf("回复已保存，但发送到需方群失败: %v", err), cb.MessageID); serr != nil {
			r.log.Warn("relay failure notice failed", slog.Any("error", serr))
		}
		return nil
	}
	return err
}
