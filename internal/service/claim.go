package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/punchamoorthee/claimrelay/internal/allocator"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/store"
)

var (
	sourceRequestRe = regexp.MustCompile(`^(\d+)\s*群$`)
	digitsRe        = regexp.MustCompile(`^\d+$`)
	firstNumberRe   = regexp.MustCompile(`\d+`)
	groupRefRe      = regexp.MustCompile(`群(\d+)`)
	amountRefRe     = regexp.MustCompile(`金额(\d+)`)
)

const confirmLabel = "➕ 确认金额"

func sourceCaption(group int) string {
	return fmt.Sprintf("🌟 群: %d 🌟", group)
}

func claimNotice(amount string, group int) string {
	return fmt.Sprintf("💰 金额：%s\n🔢 群：%d\n\n❌ 如果会员10分钟没进群请回复0", amount, group)
}

// ParseSourceRequest reads "N" or "N 群" and reports whether N is a claimable amount.
func ParseSourceRequest(text string, minAmount, maxAmount int) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "+") {
		return "", false
	}
	var amount string
	if m := sourceRequestRe.FindStringSubmatch(text); m != nil {
		amount = m[1]
	} else if digitsRe.MatchString(text) {
		amount = text
	} else {
		return "", false
	}
	n, err := strconv.Atoi(amount)
	if err != nil || n < minAmount || n > maxAmount {
		return "", false
	}
	return amount, true
}

// claimRequest is what a claim needs to know about the Source room side.
type claimRequest struct {
	SourceRoomID     int64
	RequestMessageID int64
	RequesterID      int64
	Amount           string
	PreferredRoom    int64
}

// HandleSourceRequest claims an asset for a Source-room amount request. An empty pool is
// silent.
func (r *Relay) HandleSourceRequest(ctx context.Context, msg domain.Message) error {
	amount, ok := ParseSourceRequest(msg.Text, r.opts.MinAmount, r.opts.MaxAmount)
	if !ok {
		return nil
	}
	_, err := r.claim(ctx, claimRequest{
		SourceRoomID:     msg.RoomID,
		RequestMessageID: msg.MessageID,
		RequesterID:      msg.SenderID,
		Amount:           amount,
	})
	if errors.Is(err, allocator.ErrEmpty) {
		r.log.Info("no open asset, staying silent", slog.Int64("room_id", msg.RoomID))
		return nil
	}
	return err
}

// AdminClaim claims an asset on behalf of the message a global admin replied "群" to.
func (r *Relay) AdminClaim(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) || !msg.IsReply() {
		return nil
	}
	original := msg.ReplyTo
	amount := "0"
	if t := strings.TrimSpace(original.Text); digitsRe.MatchString(t) {
		amount = t
	} else if n := firstNumberRe.FindString(original.Text); n != "" {
		amount = n
	}

	_, err := r.claim(ctx, claimRequest{
		SourceRoomID:     msg.RoomID,
		RequestMessageID: original.MessageID,
		RequesterID:      original.SenderID,
		Amount:           amount,
	})
	if errors.Is(err, allocator.ErrEmpty) {
		return nil
	}
	return err
}

// claim allocates an asset, posts it to the Source room and the claim notice to the
// asset's Target room, and records the exchange. The asset is released when either
// send fails.
func (r *Relay) claim(ctx context.Context, req claimRequest) (*domain.CorrelationRecord, error) {
	// 1. Allocation (read open -> select -> mark closed)
	r.claimMu.Lock()
	alloc, err := r.alloc.Allocate(ctx, req.PreferredRoom)
	if err != nil {
		r.claimMu.Unlock()
		if errors.Is(err, allocator.ErrEmpty) {
			claimsTotal.WithLabelValues("empty").Inc()
		} else {
			claimsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	err = r.assets.SetStatus(ctx, alloc.Asset.ID, domain.StatusClosed)
	r.claimMu.Unlock()
	if err != nil {
		claimsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("close asset %s: %w", alloc.Asset.ID, err)
	}
	allocationAttempts.Observe(float64(alloc.Attempts))
	asset := alloc.Asset

	// 2. Asset to the Source room
	mediaID, err := r.tr.SendMedia(ctx, req.SourceRoomID, asset.Handle, sourceCaption(asset.GroupNumber), req.RequestMessageID)
	if err != nil {
		r.release(ctx, asset.ID)
		claimsTotal.WithLabelValues("send_failed").Inc()
		return nil, fmt.Errorf("send asset %s to room %d: %w", asset.ID, req.SourceRoomID, err)
	}

	// 3. Notice to the Target room
	noticeID, err := r.tr.SendText(ctx, alloc.TargetRoomID, claimNotice(req.Amount, asset.GroupNumber), 0)
	if err != nil {
		r.release(ctx, asset.ID)
		claimsTotal.WithLabelValues("send_failed").Inc()
		return nil, fmt.Errorf("send claim notice for %s to room %d: %w", asset.ID, alloc.TargetRoomID, err)
	}

	// 4. Correlation
	rec := r.corr.Put(ctx, domain.CorrelationRecord{
		AssetID:                asset.ID,
		SourceRoomID:           req.SourceRoomID,
		SourceMessageID:        mediaID,
		SourceReplyToMessageID: req.RequestMessageID,
		TargetRoomID:           alloc.TargetRoomID,
		TargetMessageID:        noticeID,
		ClaimedAmount:          req.Amount,
		GroupNumber:            strconv.Itoa(asset.GroupNumber),
		RequesterID:            req.RequesterID,
	})
	r.attachConfirm(ctx, rec)

	claimsTotal.WithLabelValues("ok").Inc()
	r.log.Info("asset claimed",
		slog.String("asset_id", asset.ID),
		slog.Int64("room_id", alloc.TargetRoomID),
		slog.String("amount", req.Amount),
		slog.Int("attempts", alloc.Attempts),
	)
	return &rec, nil
}

func (r *Relay) attachConfirm(ctx context.Context, rec domain.CorrelationRecord) {
	if !r.opts.ConfirmButtons {
		return
	}
	controls := []domain.Control{{Label: confirmLabel, Data: plusPrefix + rec.AssetID}}
	if err := r.tr.EditControls(ctx, rec.TargetRoomID, rec.TargetMessageID, controls); err != nil {
		r.log.Warn("attach confirm control failed", slog.String("asset_id", rec.AssetID), slog.Any("error", err))
	}
}

func (r *Relay) release(ctx context.Context, assetID string) {
	if err := r.assets.SetStatus(ctx, assetID, domain.StatusOpen); err != nil {
		r.log.Error("release asset failed", slog.String("asset_id", assetID), slog.Any("error", err))
	}
}

// SendAsset posts an asset chosen by a global admin ("发图[群N]") into the admin's room.
// With "转发" the asset is also forwarded as a claim of "金额M" (default 0) to its Target
// room; "关闭" closes it.
func (r *Relay) SendAsset(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		return ErrUnauthorized
	}
	text := strings.TrimSpace(msg.Text)

	assets, err := r.assets.List(ctx)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		r.reply(ctx, msg, "没有可用的图片。")
		return nil
	}

	var asset *domain.Asset
	if m := groupRefRe.FindStringSubmatch(text); m != nil {
		for i := range assets {
			if strconv.Itoa(assets[i].GroupNumber) == m[1] {
				asset = &assets[i]
				break
			}
		}
		if asset == nil {
			r.reply(ctx, msg, fmt.Sprintf("没有找到群号为 %s 的图片。", m[1]))
			return nil
		}
	} else {
		asset, err = r.assets.RandomOpen(ctx)
		if errors.Is(err, store.ErrAssetNotFound) {
			asset = &assets[0]
		} else if err != nil {
			return err
		}
	}

	var replyTo int64
	if msg.IsReply() {
		replyTo = msg.ReplyTo.MessageID
	}
	mediaID, err := r.tr.SendMedia(ctx, msg.RoomID, asset.Handle, sourceCaption(asset.GroupNumber), replyTo)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("发送图片错误: %v", err))
		return fmt.Errorf("send asset %s: %w", asset.ID, err)
	}
	r.log.Info("asset sent by admin", slog.String("asset_id", asset.ID), slog.Int64("user_id", msg.SenderID))

	if !strings.Contains(text, "转发") {
		return nil
	}
	amount := "0"
	if m := amountRefRe.FindStringSubmatch(text); m != nil {
		amount = m[1]
	}
	target, err := r.alloc.Bind(ctx, asset)
	if errors.Is(err, allocator.ErrNoTargetRooms) {
		r.reply(ctx, msg, "没有设置群B，无法转发。")
		return nil
	}
	if err != nil {
		return err
	}
	noticeID, err := r.tr.SendText(ctx, target, claimNotice(amount, asset.GroupNumber), 0)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("转发至群B失败: %v", err))
		return fmt.Errorf("forward asset %s: %w", asset.ID, err)
	}
	requestID := msg.MessageID
	if replyTo != 0 {
		requestID = replyTo
	}
	rec := r.corr.Put(ctx, domain.CorrelationRecord{
		AssetID:                asset.ID,
		SourceRoomID:           msg.RoomID,
		SourceMessageID:        mediaID,
		SourceReplyToMessageID: requestID,
		TargetRoomID:           target,
		TargetMessageID:        noticeID,
		ClaimedAmount:          amount,
		GroupNumber:            strconv.Itoa(asset.GroupNumber),
		RequesterID:            msg.SenderID,
	})
	r.attachConfirm(ctx, rec)

	if strings.Contains(text, "关闭") {
		if err := r.assets.SetStatus(ctx, asset.ID, domain.StatusClosed); err != nil {
			return fmt.Errorf("close asset %s: %w", asset.ID, err)
		}
	}
	return nil
}
