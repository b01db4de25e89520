package domain

import (
	"time"
)

// AssetStatus is the two-valued allocation state of an asset.
type AssetStatus string

const (
	StatusOpen   AssetStatus = "open"
	StatusClosed AssetStatus = "closed"
)

// AssetMetadata holds the room bindings of an asset.
// TargetRoomID, once set, decides which Target room owns the asset.
type AssetMetadata struct {
	TargetRoomID int64 `json:"target_room_id,omitempty"`
	SourceRoomID int64 `json:"source_room_id,omitempty"`
}

func (m AssetMetadata) Bound() bool { return m.TargetRoomID != 0 }

// Asset is an allocatable media item tagged with a group number.
type Asset struct {
	ID          string        `json:"id"`
	GroupNumber int           `json:"group_number"`
	Handle      string        `json:"handle"`
	Status      AssetStatus   `json:"status"`
	Metadata    AssetMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CorrelationRecord links a Source-room claim to the message forwarded into a Target room.
// There is at most one record per asset.
type CorrelationRecord struct {
	AssetID                string     `json:"asset_id"`
	SourceRoomID           int64      `json:"source_room_id"`
	SourceMessageID        int64      `json:"source_message_id"`
	SourceReplyToMessageID int64      `json:"source_reply_to_message_id,omitempty"`
	TargetRoomID           int64      `json:"target_room_id"`
	TargetMessageID        int64      `json:"target_message_id"`
	ClaimedAmount          string     `json:"claimed_amount"`
	GroupNumber            string     `json:"group_number"`
	RequesterID            int64      `json:"requester_id"`
	Seq                    uint64     `json:"seq"`
	CreatedAt              time.Time  `json:"created_at"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the exchange still waits for a Target-room answer.
func (r CorrelationRecord) Open() bool { return r.ResolvedAt == nil }

// RelayReplyTo is the Source-room message a finalized answer is addressed to.
func (r CorrelationRecord) RelayReplyTo() int64 {
	if r.SourceReplyToMessageID != 0 {
		return r.SourceReplyToMessageID
	}
	return r.SourceMessageID
}

// PendingApproval is a custom amount waiting for a global admin.
// ID is the id of the Target-room message that proposed the amount.
type PendingApproval struct {
	ID                int64     `json:"id"`
	AssetID           string    `json:"asset_id"`
	ProposedAmount    string    `json:"proposed_amount"`
	ResponderID       int64     `json:"responder_id"`
	ResponderName     string    `json:"responder_name"`
	OriginalMessageID int64     `json:"original_message_id"`
	ReplyToMessageID  int64     `json:"reply_to_message_id,omitempty"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
	// CorrelationSeq pins the approval to the exchange it was raised on.
	CorrelationSeq uint64 `json:"correlation_seq,omitempty"`
}

// Admin is a global admin; Handle is used when tagging them in a room.
type Admin struct {
	ID     int64  `json:"id"     yaml:"id"`
	Handle string `json:"handle" yaml:"handle"`
}

// Message is an inbound chat event as delivered by the transport.
type Message struct {
	RoomID     int64     `json:"room_id"`
	MessageID  int64     `json:"message_id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Private    bool      `json:"private,omitempty"`
	Text       string    `json:"text,omitempty"`
	Media      string    `json:"media,omitempty"`
	ReplyTo    *Reply    `json:"reply_to,omitempty"`
	Callback   *Callback `json:"callback,omitempty"`
}

// IsReply reports whether the message answers another message.
func (m Message) IsReply() bool { return m.ReplyTo != nil && m.ReplyTo.MessageID != 0 }

// Reply describes the message being replied to.
type Reply struct {
	MessageID  int64  `json:"message_id"`
	SenderID   int64  `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Callback is an inline control press.
type Callback struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	MessageID int64  `json:"message_id"`
}

// Control is an inline button attached to a message.
type Control struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}
