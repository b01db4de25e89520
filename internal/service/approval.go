package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/approval"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
)

var approvalPhrases = []string{"同意", "确认"}

// IsApproval reports whether text approves a pending custom amount.
func IsApproval(text string) bool {
	for _, p := range approvalPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func displayName(id int64, name string) string {
	if name != "" {
		return name
	}
	return strconv.FormatInt(id, 10)
}

func (r *Relay) adminMentions() string {
	var b strings.Builder
	for _, a := range r.rooms.GlobalAdmins() {
		if a.Handle == "" {
			continue
		}
		b.WriteString("@")
		b.WriteString(strings.TrimPrefix(a.Handle, "@"))
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}

// RequestApproval records a custom amount proposed in reply to rec's notice and asks the
// global admins to confirm it.
func (r *Relay) RequestApproval(ctx context.Context, msg domain.Message, rec domain.CorrelationRecord, amount string) error {
	name := displayName(msg.SenderID, msg.SenderName)
	p := domain.PendingApproval{
		ID:                msg.MessageID,
		AssetID:           rec.AssetID,
		ProposedAmount:    amount,
		ResponderID:       msg.SenderID,
		ResponderName:     name,
		OriginalMessageID: msg.MessageID,
		Text:              msg.Text,
		Timestamp:         time.Now().UTC(),
		CorrelationSeq:    rec.Seq,
	}
	if msg.IsReply() {
		p.ReplyToMessageID = msg.ReplyTo.MessageID
	}
	r.approvals.Put(ctx, p)
	approvalsTotal.WithLabelValues("requested").Inc()
	r.log.Info("custom amount pending approval",
		slog.String("asset_id", rec.AssetID),
		slog.Int64("user_id", msg.SenderID),
		slog.String("amount", amount),
	)

	r.reply(ctx, msg, strings.TrimSpace(fmt.Sprintf("👤 用户 %s 提交的自定义金额 +%s 需要全局管理员确认 %s", name, amount, r.adminMentions())))

	dm := fmt.Sprintf("🔔 需要审批:\n"+
		"👤 用户 %s (ID: %d) 在群 B 提交了自定义金额:\n"+
		"🆔 资产: %s\n"+
		"💰 原始金额: %s\n"+
		"💲 自定义金额: %s\n"+
		"🔢 群号: %s\n\n"+
		"✅ 审批方式:\n"+
		"1️⃣ 直接回复此消息并输入\"同意\"或\"确认\"\n"+
		"2️⃣ 或在群 B 找到用户发送的自定义金额消息（例如: +%s）并回复\"同意\"或\"确认\"",
		name, msg.SenderID, rec.AssetID, rec.ClaimedAmount, amount, rec.GroupNumber, amount)
	for _, admin := range r.rooms.GlobalAdmins() {
		if _, err := r.tr.SendText(ctx, admin.ID, dm, 0); err != nil {
			r.log.Warn("notify admin failed", slog.Int64("user_id", admin.ID), slog.Any("error", err))
		}
	}
	return nil
}

// ResolveApproval approves a pending custom amount for a global admin. In a private chat
// the newest pending approval is taken; in a room the approval is matched against the
// message the admin replied to.
func (r *Relay) ResolveApproval(ctx context.Context, msg domain.Message) error {
	if !r.rooms.IsGlobalAdmin(msg.SenderID) {
		return ErrUnauthorized
	}

	r.approvalMu.Lock()
	defer r.approvalMu.Unlock()

	// 1. Find pending
	var (
		p   domain.PendingApproval
		err error
	)
	if msg.Private {
		p, err = r.approvals.Latest()
		if errors.Is(err, approval.ErrNotFound) {
			r.reply(ctx, msg, "没有待审批的自定义金额。")
			return nil
		}
	} else {
		if !msg.IsReply() {
			return nil
		}
		p, err = r.approvals.Match(msg.ReplyTo.MessageID, msg.ReplyTo.Text)
		if errors.Is(err, approval.ErrNotFound) {
			r.reply(ctx, msg, "⚠️ 没有找到此消息的待审批记录。请检查是否回复了正确的消息。")
			return nil
		}
	}
	if err != nil {
		return err
	}

	// 2. Finalize
	rec, ok := r.corr.Get(p.AssetID)
	if !ok || (p.CorrelationSeq != 0 && rec.Seq != p.CorrelationSeq) {
		r.approvals.Delete(ctx, p.ID)
		approvalsTotal.WithLabelValues("stale").Inc()
		r.reply(ctx, msg, "无法找到相关图片信息，批准失败。")
		return fmt.Errorf("%w: approval %d for %s", ErrStaleApproval, p.ID, p.AssetID)
	}

	response := "+" + p.ProposedAmount
	err = r.finalize(ctx, rec, response, pathApproval)

	// 3. Delete, whatever the relay outcome
	r.approvals.Delete(ctx, p.ID)

	switch {
	case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, correlation.ErrNotFound):
		approvalsTotal.WithLabelValues("stale").Inc()
		r.reply(ctx, msg, "无法找到相关图片信息，批准失败。")
		return fmt.Errorf("%w: %w", ErrStaleApproval, err)
	case errors.Is(err, ErrRelayFailed):
		approvalsTotal.WithLabelValues("relay_failed").Inc()
	case err != nil:
		return err
	default:
		approvalsTotal.WithLabelValues("approved").Inc()
	}

	approver := displayName(msg.SenderID, msg.SenderName)
	r.log.Info("custom amount approved",
		slog.String("asset_id", p.AssetID),
		slog.Int64("user_id", msg.SenderID),
		slog.String("amount", p.ProposedAmount),
	)

	// 4. Confirm in the Target room; a relay failure is reported to the approver on its own
	if msg.Private {
		confirm := fmt.Sprintf("✅ 金额确认修改：+%s (由管理员 %s 批准)", p.ProposedAmount, approver)
		if _, serr := r.tr.SendText(ctx, rec.TargetRoomID, confirm, p.ReplyToMessageID); serr != nil {
			r.log.Warn("approval confirmation failed", slog.Int64("room_id", rec.TargetRoomID), slog.Any("error", serr))
		}
	} else {
		r.reply(ctx, msg, "✅ 金额确认修改："+response)
	}

	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("金额已批准，但发送到需方群失败: %v", err))
		return nil
	}
	if msg.Private {
		r.reply(ctx, msg, fmt.Sprintf("✅ 已批准 %s 的自定义金额 +%s", p.AssetID, p.ProposedAmount))
	}
	return nil
}
