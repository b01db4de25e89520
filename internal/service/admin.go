package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/registry"
	"github.com/punchamoorthee/claimrelay/internal/store"
)

var (
	registerAssetRe = regexp.MustCompile(`设置群\s*(\d+)`)
	resetGroupRe    = regexp.MustCompile(`^重置群(\d+)$`)
)

func kindLabel(k registry.Kind) string {
	if k == registry.KindSource {
		return "供方群 (Group A)"
	}
	return "需方群 (Group B)"
}

// SetRoomKind registers the message's room as a Source or Target room.
func (r *Relay) SetRoomKind(ctx context.Context, msg domain.Message, kind registry.Kind) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		r.reply(ctx, msg, "只有全局管理员可以设置群聊类型。")
		return nil
	}
	if r.rooms.SetKind(ctx, msg.RoomID, kind) {
		r.log.Info("room registered",
			slog.Int64("room_id", msg.RoomID),
			slog.String("kind", kind.String()),
			slog.Int64("user_id", msg.SenderID),
		)
	}
	return nil
}

// DissolveRoom unregisters the message's room. Other rooms are unaffected.
func (r *Relay) DissolveRoom(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		r.reply(ctx, msg, "只有全局管理员可以解散群聊设置。")
		return nil
	}
	kind := r.rooms.Remove(ctx, msg.RoomID)
	if kind == registry.KindNone {
		r.reply(ctx, msg, "此群聊未设置为任何群组类型。")
		return nil
	}
	r.log.Info("room unregistered", slog.Int64("room_id", msg.RoomID), slog.String("kind", kind.String()))
	r.reply(ctx, msg, fmt.Sprintf("✅ 此群聊已从%s中移除。其他群聊不受影响。", kindLabel(kind)))
	return nil
}

// PromoteRoomAdmin makes the author of the replied-to message an admin of the room.
func (r *Relay) PromoteRoomAdmin(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		return nil
	}
	if !msg.IsReply() || msg.ReplyTo.SenderID == 0 {
		r.reply(ctx, msg, "请回复要设置为操作人的用户消息。")
		return nil
	}
	r.rooms.AddRoomAdmin(ctx, msg.RoomID, msg.ReplyTo.SenderID)
	r.reply(ctx, msg, fmt.Sprintf("👑 已将用户 %s 设置为群操作人。", displayName(msg.ReplyTo.SenderID, msg.ReplyTo.SenderName)))
	return nil
}

// SetForwarding handles 开启转发, 关闭转发 and 转发状态 (toggle).
func (r *Relay) SetForwarding(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		r.reply(ctx, msg, "只有全局管理员可以切换转发状态。")
		return nil
	}
	text := msg.Text
	var status string
	switch {
	case strings.Contains(text, "开启转发"):
		r.rooms.SetForwarding(ctx, true)
		status = "✅ 群转发功能已开启 - 消息将从群B转发到群A"
	case strings.Contains(text, "关闭转发"):
		r.rooms.SetForwarding(ctx, false)
		status = "🚫 群转发功能已关闭 - 消息将不会从群B转发到群A"
	default:
		if r.rooms.ToggleForwarding(ctx) {
			status = "✅ 群转发功能已开启"
		} else {
			status = "🚫 群转发功能已关闭"
		}
	}
	r.log.Info("forwarding changed", slog.Bool("enabled", r.rooms.Forwarding()), slog.Int64("user_id", msg.SenderID))
	r.reply(ctx, msg, status)
	return nil
}

// RegisterAsset stores the media of a "设置群 N" message as a new open asset bound to
// the Target room it was posted in.
func (r *Relay) RegisterAsset(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsTarget(msg.RoomID) {
		r.reply(ctx, msg, "此群聊未设置为需方群 (Group B)，请联系全局管理员设置。")
		return nil
	}
	if !r.rooms.Authorized(msg.RoomID, msg.SenderID) {
		r.reply(ctx, msg, "只有群操作人可以设置图片。请联系管理员。")
		return nil
	}
	if msg.Media == "" {
		r.reply(ctx, msg, "请发送一张图片并备注'设置群 {number}'。")
		return nil
	}
	m := registerAssetRe.FindStringSubmatch(msg.Text)
	if m == nil {
		r.reply(ctx, msg, "请使用正确的格式：设置群 {number}")
		return nil
	}
	group, err := strconv.Atoi(m[1])
	if err != nil {
		r.reply(ctx, msg, "请使用正确的格式：设置群 {number}")
		return nil
	}

	meta := domain.AssetMetadata{TargetRoomID: msg.RoomID, SourceRoomID: r.opts.DefaultSourceRoom}
	if sources := r.rooms.SourceRooms(); len(sources) > 0 {
		meta.SourceRoomID = sources[0]
	}
	asset := domain.Asset{
		ID:          uuid.NewString(),
		GroupNumber: group,
		Handle:      msg.Media,
		Status:      domain.StatusOpen,
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.assets.Create(ctx, asset); err != nil {
		if errors.Is(err, store.ErrAssetExists) {
			r.reply(ctx, msg, "设置图片失败，该图片可能已存在。请重试。")
			return nil
		}
		r.reply(ctx, msg, fmt.Sprintf("设置图片时出错: %v", err))
		return fmt.Errorf("create asset: %w", err)
	}
	r.log.Info("asset registered",
		slog.String("asset_id", asset.ID),
		slog.Int("group", group),
		slog.Int64("room_id", msg.RoomID),
	)
	r.reply(ctx, msg, fmt.Sprintf("✅ 已设置群聊为%d群", group))
	return nil
}

// ResetRoom deletes every asset bound to a Target room together with the room's
// exchanges, responses and pending approvals.
func (r *Relay) ResetRoom(ctx context.Context, msg domain.Message) error {
	if !r.rooms.Authorized(msg.RoomID, msg.SenderID) {
		r.reply(ctx, msg, "只有群操作人或全局管理员可以重置群码。")
		return nil
	}
	deleted, err := r.assets.DeleteForTargetRoom(ctx, msg.RoomID)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("重置群码时出错: %v", err))
		return fmt.Errorf("reset room %d: %w", msg.RoomID, err)
	}
	room := msg.RoomID
	r.forget(ctx, deleted, func(rec domain.CorrelationRecord) bool { return rec.TargetRoomID == room })

	r.log.Info("room reset", slog.Int64("room_id", room), slog.Int("assets", len(deleted)))
	r.reply(ctx, msg, fmt.Sprintf("🔄 已重置所有群码! 共清除了 %d 个图片。", len(deleted)))
	return nil
}

// ResetGroup deletes the room's assets of one group number and their exchanges.
func (r *Relay) ResetGroup(ctx context.Context, msg domain.Message, group int) error {
	if !r.rooms.Authorized(msg.RoomID, msg.SenderID) {
		r.reply(ctx, msg, "只有群操作人或全局管理员可以重置群码。")
		return nil
	}
	deleted, err := r.assets.DeleteByGroupNumber(ctx, group, msg.RoomID)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("❌ 重置群码 %d 失败。", group))
		return fmt.Errorf("reset group %d in room %d: %w", group, msg.RoomID, err)
	}
	room, number := msg.RoomID, strconv.Itoa(group)
	r.forget(ctx, deleted, func(rec domain.CorrelationRecord) bool {
		return rec.TargetRoomID == room && rec.GroupNumber == number
	})

	if len(deleted) == 0 {
		r.reply(ctx, msg, fmt.Sprintf("⚠️ 未找到群号为 %d 的图片。", group))
		return nil
	}
	r.log.Info("group reset", slog.Int64("room_id", room), slog.Int("group", group), slog.Int("assets", len(deleted)))
	r.reply(ctx, msg, fmt.Sprintf("✅ 已重置群码 %d，删除了 %d 张图片。", group, len(deleted)))
	return nil
}

// forget drops the exchanges matching pred and all state kept for the deleted assets.
func (r *Relay) forget(ctx context.Context, deleted []string, pred func(domain.CorrelationRecord) bool) {
	ids := slices.Clone(deleted)
	for _, id := range r.corr.RemoveWhere(ctx, pred) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	for _, id := range deleted {
		r.corr.Remove(ctx, id)
	}
	r.responses.Remove(ctx, ids...)
	r.approvals.DeleteForAssets(ctx, ids...)
}

// ResetExchanges clears every correlation and response. Assets are untouched.
func (r *Relay) ResetExchanges(ctx context.Context, msg domain.Message) error {
	if !msg.Private || !r.rooms.IsGlobalAdmin(msg.SenderID) {
		r.reply(ctx, msg, "只有全局管理员可以在私聊中使用此命令。")
		return nil
	}
	removed := r.corr.RemoveWhere(ctx, func(domain.CorrelationRecord) bool { return true })
	r.responses.Clear(ctx)
	r.log.Info("exchanges reset", slog.Int("correlations", len(removed)), slog.Int64("user_id", msg.SenderID))
	r.reply(ctx, msg, "🔄 消息映射和回复记录已重置。")
	return nil
}

// HandleSlashCommand runs a "/" command. It reports false for unknown commands.
func (r *Relay) HandleSlashCommand(ctx context.Context, msg domain.Message) (bool, error) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := fields[0], fields[1:]
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}

	switch name {
	case "/admin":
		return true, r.addRoomAdminByID(ctx, msg, args)
	case "/dreset":
		return true, r.ResetExchanges(ctx, msg)
	case "/setimagegroup":
		return true, r.rebindAsset(ctx, msg, args)
	case "/forwarding_on", "/forwarding_off":
		if !r.rooms.IsGlobalAdmin(msg.SenderID) {
			r.reply(ctx, msg, "只有全局管理员可以切换转发状态。")
			return true, nil
		}
		r.rooms.SetForwarding(ctx, name == "/forwarding_on")
		r.reply(ctx, msg, forwardingStatus(r.rooms.Forwarding()))
		return true, nil
	case "/forwarding_status":
		r.reply(ctx, msg, forwardingStatus(r.rooms.Forwarding()))
		return true, nil
	case "/id":
		text := fmt.Sprintf("👤 您的用户 ID: %d\n🌐 群聊 ID: %d", msg.SenderID, msg.RoomID)
		if msg.IsReply() && msg.ReplyTo.SenderID != 0 {
			text += fmt.Sprintf("\n\n↩️ 回复的用户信息:\n👤 用户 ID: %d\n📝 用户名: %s", msg.ReplyTo.SenderID, msg.ReplyTo.SenderName)
		}
		r.reply(ctx, msg, text)
		return true, nil
	}
	return false, nil
}

func forwardingStatus(enabled bool) string {
	if enabled {
		return "✅ 群转发功能已开启"
	}
	return "🚫 群转发功能已关闭"
}

func (r *Relay) addRoomAdminByID(ctx context.Context, msg domain.Message, args []string) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		r.reply(ctx, msg, "只有全局管理员可以使用此命令。")
		return nil
	}
	if len(args) != 1 {
		r.reply(ctx, msg, "用法: /admin <user_id> - 将用户设置为群操作人")
		return nil
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.reply(ctx, msg, "用户 ID 必须是数字。")
		return nil
	}
	r.rooms.AddRoomAdmin(ctx, msg.RoomID, userID)
	r.reply(ctx, msg, fmt.Sprintf("👤 用户 %d 已设置为此群的操作人。", userID))
	return nil
}

func (r *Relay) rebindAsset(ctx context.Context, msg domain.Message, args []string) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		r.reply(ctx, msg, "只有全局管理员可以使用此命令。")
		return nil
	}
	if len(args) < 2 {
		r.reply(ctx, msg, "用法: /setimagegroup <asset_id> <room_id>")
		return nil
	}
	roomID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		r.reply(ctx, msg, "群 ID 必须是数字。")
		return nil
	}
	if err := r.alloc.Rebind(ctx, args[0], roomID); err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			r.reply(ctx, msg, fmt.Sprintf("未找到资产 %s。", args[0]))
			return nil
		}
		r.reply(ctx, msg, fmt.Sprintf("❌ 更新资产 %s 失败", args[0]))
		return fmt.Errorf("rebind %s: %w", args[0], err)
	}
	r.log.Info("asset rebound", slog.String("asset_id", args[0]), slog.Int64("room_id", roomID))
	r.reply(ctx, msg, fmt.Sprintf("✅ 资产 %s 已绑定到需方群 %d", args[0], roomID))
	return nil
}
