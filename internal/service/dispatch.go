package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/registry"
)

// HandleMessage routes one inbound event. It is safe to call from many goroutines.
func (r *Relay) HandleMessage(ctx context.Context, msg domain.Message) error {
	kind := r.rooms.Kind(msg.RoomID)
	eventsTotal.WithLabelValues(kind.String()).Inc()

	err := r.route(ctx, msg, kind)
	switch {
	case errors.Is(err, ErrUnauthorized):
		r.log.Debug("unauthorized event ignored", slog.Int64("user_id", msg.SenderID), slog.Int64("room_id", msg.RoomID))
		return nil
	case errors.Is(err, ErrStaleApproval):
		r.log.Warn("stale approval", slog.Any("error", err))
		return nil
	}
	return err
}

func (r *Relay) route(ctx context.Context, msg domain.Message, kind registry.Kind) error {
	// 1. Control presses
	if msg.Callback != nil {
		if kind != registry.KindTarget {
			return nil
		}
		return r.HandleCallback(ctx, msg)
	}

	text := strings.TrimSpace(msg.Text)

	// 2. Asset registration
	if msg.Media != "" {
		if registerAssetRe.MatchString(text) {
			return r.RegisterAsset(ctx, msg)
		}
		return nil
	}
	if text == "" {
		return nil
	}

	// 3. Commands
	if strings.HasPrefix(text, "/") {
		if ok, err := r.HandleSlashCommand(ctx, msg); ok {
			return err
		}
		return nil
	}
	if handled, err := r.roomCommand(ctx, msg, text, kind); handled {
		return err
	}

	// 4. Approvals
	if IsApproval(text) && r.rooms.IsGlobalAdmin(msg.SenderID) && r.approvalAddressed(msg, text) {
		return r.ResolveApproval(ctx, msg)
	}

	// 5. Room traffic
	switch kind {
	case registry.KindSource:
		if msg.IsReply() && strings.Contains(text, "群") && r.rooms.IsGlobalAdmin(msg.SenderID) {
			return r.AdminClaim(ctx, msg)
		}
		return r.HandleSourceRequest(ctx, msg)
	case registry.KindTarget:
		return r.HandleTargetMessage(ctx, msg)
	default:
		return nil
	}
}

// approvalAddressed reports whether an approval phrase is meant for a pending approval.
// In a room a reply that carries a number and matches no pending approval is an answer
// to a claim notice and goes on to classification.
func (r *Relay) approvalAddressed(msg domain.Message, text string) bool {
	if msg.Private {
		return true
	}
	if !msg.IsReply() {
		return false
	}
	if _, err := r.approvals.Match(msg.ReplyTo.MessageID, msg.ReplyTo.Text); err == nil {
		return true
	}
	return !firstNumberRe.MatchString(text)
}

func (r *Relay) roomCommand(ctx context.Context, msg domain.Message, text string, kind registry.Kind) (bool, error) {
	switch {
	case strings.HasPrefix(text, "发图"):
		return true, r.SendAsset(ctx, msg)
	case text == "设置群聊A":
		return true, r.SetRoomKind(ctx, msg, registry.KindSource)
	case text == "设置群聊B":
		return true, r.SetRoomKind(ctx, msg, registry.KindTarget)
	case text == "解散群聊":
		return true, r.DissolveRoom(ctx, msg)
	case text == "设置操作人":
		return true, r.PromoteRoomAdmin(ctx, msg)
	case text == "开启转发", text == "关闭转发", text == "转发状态":
		return true, r.SetForwarding(ctx, msg)
	}

	if kind != registry.KindTarget {
		return false, nil
	}
	switch {
	case text == "重置群码":
		return true, r.ResetRoom(ctx, msg)
	case resetGroupRe.MatchString(text):
		group, err := strconv.Atoi(resetGroupRe.FindStringSubmatch(text)[1])
		if err != nil {
			return true, nil
		}
		return true, r.ResetGroup(ctx, msg, group)
	case registerAssetRe.MatchString(text):
		return true, r.RegisterAsset(ctx, msg)
	}
	return false, nil
}
