package models

import (
	"time"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

// InboundEvent is the envelope the chat gateway publishes for every update.
type InboundEvent struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"` // "message", "callback"
	ReceivedAt time.Time      `json:"received_at"`
	Message    domain.Message `json:"message"`
}

type OutboundOp string

const (
	OpSendText     OutboundOp = "send_text"
	OpSendMedia    OutboundOp = "send_media"
	OpEditControls OutboundOp = "edit_controls"
)

// OutboundCommand is the request payload of a gateway RPC.
type OutboundCommand struct {
	Op        OutboundOp       `json:"op"`
	RoomID    int64            `json:"room_id"`
	Text      string           `json:"text,omitempty"`
	Handle    string           `json:"handle,omitempty"`
	Caption   string           `json:"caption,omitempty"`
	ReplyTo   int64            `json:"reply_to,omitempty"`
	MessageID int64            `json:"message_id,omitempty"`
	Controls  []domain.Control `json:"controls,omitempty"`
}

// OutboundResult is the gateway's answer to an OutboundCommand.
type OutboundResult struct {
	MessageID int64  `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
