package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

// Sent is one outbound call captured by Recorder.
type Sent struct {
	ID       int64
	RoomID   int64
	Text     string
	Handle   string
	ReplyTo  int64
	Media    bool
	Controls []domain.Control
}

// Recorder is an in-process Transport that assigns increasing message ids and keeps
// every call. Failures can be injected per room.
type Recorder struct {
	mu     sync.Mutex
	nextID int64
	sent   []Sent
	edits  []Sent
	fail   map[int64]error
}

func NewRecorder() *Recorder {
	return &Recorder{nextID: 1000, fail: make(map[int64]error)}
}

// FailRoom makes every call addressed to roomID return err. A nil err clears it.
func (r *Recorder) FailRoom(roomID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, roomID)
		return
	}
	r.fail[roomID] = err
}

func (r *Recorder) record(s Sent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[s.RoomID]; err != nil {
		return 0, err
	}
	r.nextID++
	s.ID = r.nextID
	r.sent = append(r.sent, s)
	return s.ID, nil
}

func (r *Recorder) SendText(_ context.Context, roomID int64, text string, replyTo int64) (int64, error) {
	return r.record(Sent{RoomID: roomID, Text: text, ReplyTo: replyTo})
}

func (r *Recorder) SendMedia(_ context.Context, roomID int64, handle, caption string, replyTo int64) (int64, error) {
	return r.record(Sent{RoomID: roomID, Text: caption, Handle: handle, ReplyTo: replyTo, Media: true})
}

func (r *Recorder) EditControls(_ context.Context, roomID, messageID int64, controls []domain.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[roomID]; err != nil {
		return err
	}
	r.edits = append(r.edits, Sent{ID: messageID, RoomID: roomID, Controls: slices.Clone(controls)})
	return nil
}

// Sent returns the messages sent to roomID, or to every room when roomID is 0.
func (r *Recorder) Sent(roomID int64) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if roomID == 0 || s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Edits() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.edits)
}

// Last returns the latest message sent to roomID.
func (r *Recorder) Last(roomID int64) (Sent, bool) {
	sent := r.Sent(roomID)
	if len(sent) == 0 {
		return Sent{}, false
	}
	return sent[len(sent)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.edits = nil
}
