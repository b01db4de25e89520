package classifier

import (
	"regexp"
	"strings"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

// ZeroResponse is relayed when the Target room reports that the member never arrived.
const ZeroResponse = "会员没进群呢哥哥~ 😢"

type Kind int

const (
	NotRecognized Kind = iota
	NoNumbers
	ExactMatch
	SilentMismatch
	CustomAmount
)

func (k Kind) String() string {
	switch k {
	case NoNumbers:
		return "no_numbers"
	case ExactMatch:
		return "exact_match"
	case SilentMismatch:
		return "silent_mismatch"
	case CustomAmount:
		return "custom_amount"
	default:
		return "not_recognized"
	}
}

var (
	plainRe  = regexp.MustCompile(`\d+`)
	signedRe = regexp.MustCompile(`\+(\d+)`)
)

// commandPhrases are Target-room admin commands that are never read as answers.
var commandPhrases = []string{"重置群码", "重置群", "设置群聊", "设置群", "设置操作人", "解散群聊"}

// Input is a Target-room message reduced to what classification looks at.
type Input struct {
	RoomID           int64
	SenderID         int64
	Text             string
	ReplyToMessageID int64
}

func (in Input) isReply() bool { return in.ReplyToMessageID != 0 }

// Lookup finds open exchanges.
type Lookup interface {
	FindByTargetMessage(roomID, messageID int64) (domain.CorrelationRecord, bool)
	OpenRecords() []domain.CorrelationRecord
}

type Authorizer interface {
	Authorized(roomID, userID int64) bool
}

// Decision is the outcome of classifying one message. Response is set for ExactMatch,
// Authorized for CustomAmount.
type Decision struct {
	Kind       Kind
	Record     domain.CorrelationRecord
	Number     string
	Response   string
	Authorized bool
	Loose      bool
}

type Classifier struct {
	corr  Lookup
	auth  Authorizer
	loose bool
}

// New returns a classifier. loose enables the fallback scan over open exchanges.
func New(corr Lookup, auth Authorizer, loose bool) *Classifier {
	return &Classifier{corr: corr, auth: auth, loose: loose}
}

// Numbers returns the plain digit runs and the runs prefixed by "+".
func Numbers(text string) (plain, signed []string) {
	plain = plainRe.FindAllString(text, -1)
	for _, m := range signedRe.FindAllStringSubmatch(text, -1) {
		signed = append(signed, m[1])
	}
	return plain, signed
}

// ResponseFor is the text relayed to the Source room for an accepted amount.
func ResponseFor(amount string) string {
	if amount == "0" {
		return ZeroResponse
	}
	return "+" + amount
}

func IsCommand(text string) bool {
	for _, p := range commandPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func (c *Classifier) Classify(in Input) Decision {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Decision{Kind: NotRecognized}
	}
	if IsCommand(text) {
		return Decision{Kind: NotRecognized}
	}

	d := c.strict(in, text)
	if d.Kind == NotRecognized && c.loose && in.isReply() {
		return c.fallback(in, text)
	}
	return d
}

func (c *Classifier) strict(in Input, text string) Decision {
	if !in.isReply() {
		return Decision{Kind: NotRecognized}
	}
	rec, ok := c.corr.FindByTargetMessage(in.RoomID, in.ReplyToMessageID)
	if !ok {
		return Decision{Kind: NotRecognized}
	}

	if text == "0" || text == "+0" {
		return Decision{Kind: ExactMatch, Record: rec, Number: "0", Response: ZeroResponse}
	}

	plain, signed := Numbers(text)
	var n string
	switch {
	case len(signed) > 0:
		n = signed[0]
	case len(plain) > 0:
		n = plain[0]
	default:
		return Decision{Kind: NoNumbers, Record: rec}
	}

	switch n {
	case rec.ClaimedAmount:
		return Decision{Kind: ExactMatch, Record: rec, Number: n, Response: ResponseFor(n)}
	case rec.GroupNumber:
		return Decision{Kind: SilentMismatch, Record: rec, Number: n}
	default:
		return Decision{
			Kind:       CustomAmount,
			Record:     rec,
			Number:     n,
			Authorized: c.auth.Authorized(in.RoomID, in.SenderID),
		}
	}
}

// fallback matches a reply that is not anchored to a claim notice against the room's open
// exchanges: a number equal to an exchange's amount confirms it, one equal to its group is
// silent. Otherwise a single number is read as a custom amount for the newest exchange.
func (c *Classifier) fallback(in Input, text string) Decision {
	plain, _ := Numbers(text)
	if len(plain) == 0 {
		return Decision{Kind: NotRecognized}
	}

	var open []domain.CorrelationRecord
	for _, rec := range c.corr.OpenRecords() {
		if rec.TargetRoomID == in.RoomID {
			open = append(open, rec)
		}
	}
	if len(open) == 0 {
		return Decision{Kind: NotRecognized}
	}

	for _, n := range plain {
		for _, rec := range open {
			switch n {
			case rec.ClaimedAmount:
				return Decision{Kind: ExactMatch, Record: rec, Number: n, Response: ResponseFor(n), Loose: true}
			case rec.GroupNumber:
				return Decision{Kind: SilentMismatch, Record: rec, Number: n, Loose: true}
			}
		}
	}
	if len(plain) == 1 {
		return Decision{
			Kind:       CustomAmount,
			Record:     open[len(open)-1],
			Number:     plain[0],
			Authorized: c.auth.Authorized(in.RoomID, in.SenderID),
			Loose:      true,
		}
	}
	return Decision{Kind: NotRecognized}
}
